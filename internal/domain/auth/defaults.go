package auth

func adminBundle(role Role) PermissionBundle {
	return PermissionBundle{
		Role:        role,
		Tickets:     AccessAdmin,
		Inventory:   AccessAdmin,
		Purchasing:  AccessAdmin,
		Forms:       AccessAdmin,
		Departments: []string{AllDepartments},
	}
}

// DefaultRules returns the rule set seeded into an empty rule table.
func DefaultRules() []PermissionRule {
	return []PermissionRule{
		{
			Name: "Director of Schools",
			Match: RuleMatch{
				Kind:           MatchAttribute,
				AttributeKey:   "extensionAttribute10",
				AttributeValue: "Director of Schools",
			},
			Priority: 10,
			Grants:   adminBundle(RoleSuperAdmin),
		},
		{
			Name:     "Technology Department",
			Match:    RuleMatch{Kind: MatchGroup, GroupName: "Technology Department"},
			Priority: 10,
			Grants:   adminBundle(RoleSuperAdmin),
		},
		{
			Name:     "Finance",
			Match:    RuleMatch{Kind: MatchGroup, GroupName: "Finance"},
			Priority: 20,
			Grants:   adminBundle(RoleSuperAdmin),
		},
		{
			Name:     "All_Staff",
			Match:    RuleMatch{Kind: MatchGroup, GroupName: "All_Staff"},
			Priority: 100,
			Grants: PermissionBundle{
				Role:       RoleStaff,
				Tickets:    AccessWrite,
				Inventory:  AccessRead,
				Purchasing: AccessWrite,
				Forms:      AccessWrite,
			},
		},
		{
			Name:     "All_Students",
			Match:    RuleMatch{Kind: MatchGroup, GroupName: "All_Students"},
			Priority: 200,
			Grants: PermissionBundle{
				Role:    RoleStudent,
				Tickets: AccessWrite,
			},
		},
	}
}
