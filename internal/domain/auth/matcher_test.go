package auth

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func groups(names ...string) []Group {
	out := make([]Group, 0, len(names))
	for i, n := range names {
		out = append(out, Group{ID: fmt.Sprintf("gid-%d", i), Name: n})
	}
	return out
}

func TestMatcher_AttributeRuleDominatesViaMaxMerge(t *testing.T) {
	t.Parallel()

	rules := []PermissionRule{
		{
			Name:   "All_Staff",
			Match:  RuleMatch{Kind: MatchGroup, GroupName: "All_Staff"},
			Grants: PermissionBundle{Tickets: AccessWrite, Inventory: AccessRead},
		},
		{
			Name: "Director of Schools",
			Match: RuleMatch{
				Kind:           MatchAttribute,
				AttributeKey:   "extensionAttribute10",
				AttributeValue: "Director of Schools",
			},
			Grants: PermissionBundle{Tickets: AccessAdmin, Inventory: AccessAdmin},
		},
	}

	m := NewMatcher(rules)
	res := m.Explain(Subject{
		Groups:     groups("All_Staff"),
		Attributes: map[string]any{"extensionAttribute10": "Director of Schools"},
	}, "")

	assert.Equal(t, AccessAdmin, res.Bundle.Tickets)
	assert.Equal(t, AccessAdmin, res.Bundle.Inventory)
	assert.Equal(t, []string{"Director of Schools", "All_Staff"}, res.MatchedRules)
}

func TestMatcher_NoMatchYieldsZeroBundle(t *testing.T) {
	t.Parallel()

	m := NewMatcher(DefaultRules())
	b := m.Resolve(Subject{Groups: groups("Bus Drivers")}, "")
	assert.True(t, b.IsZero())
	assert.Empty(t, b.Departments)
}

func TestMatcher_DefaultRules(t *testing.T) {
	t.Parallel()

	m := NewMatcher(DefaultRules())

	staff := m.Resolve(Subject{Groups: groups("all_staff")}, "")
	assert.Equal(t, RoleStaff, staff.Role)
	assert.Equal(t, AccessWrite, staff.Tickets)
	assert.Equal(t, AccessRead, staff.Inventory)
	assert.Equal(t, AccessWrite, staff.Purchasing)
	assert.Equal(t, AccessWrite, staff.Forms)
	assert.Empty(t, staff.Departments)

	student := m.Resolve(Subject{Groups: groups("All_Students")}, "")
	assert.Equal(t, RoleStudent, student.Role)
	assert.Equal(t, AccessWrite, student.Tickets)
	assert.Equal(t, AccessNone, student.Inventory)

	tech := m.Resolve(Subject{Groups: groups("All_Staff", "Technology Department")}, "")
	assert.Equal(t, RoleSuperAdmin, tech.Role)
	assert.Equal(t, AccessAdmin, tech.Inventory)
	assert.Equal(t, []string{AllDepartments}, tech.Departments)
}

func TestMatcher_GroupMatchByID(t *testing.T) {
	t.Parallel()

	m := NewMatcher([]PermissionRule{{
		Name:   "Finance",
		Match:  RuleMatch{Kind: MatchGroup, GroupID: "1111-2222"},
		Grants: PermissionBundle{Purchasing: AccessAdmin},
	}})

	b := m.Resolve(Subject{Groups: []Group{{ID: "1111-2222", Name: "renamed"}}}, "")
	assert.Equal(t, AccessAdmin, b.Purchasing)

	b = m.Resolve(Subject{Groups: []Group{{ID: "other", Name: "1111-2222"}}}, "")
	assert.Equal(t, AccessNone, b.Purchasing)
}

func TestMatcher_NestedAttributeExpression(t *testing.T) {
	t.Parallel()

	m := NewMatcher([]PermissionRule{{
		Name: "Director",
		Match: RuleMatch{
			Kind:           MatchAttribute,
			AttributeKey:   "onPremisesExtensionAttributes.extensionAttribute10",
			AttributeValue: "Director of Schools",
		},
		Grants: PermissionBundle{Role: RoleSuperAdmin},
	}})

	b := m.Resolve(Subject{Attributes: map[string]any{
		"onPremisesExtensionAttributes": map[string]any{"extensionAttribute10": " Director of Schools "},
	}}, "")
	assert.Equal(t, RoleSuperAdmin, b.Role)

	b = m.Resolve(Subject{Attributes: map[string]any{"extensionAttribute10": "Principal"}}, "")
	assert.Equal(t, RoleNone, b.Role)
}

func TestMatcher_InvalidExpressionSkipped(t *testing.T) {
	t.Parallel()

	m := NewMatcher([]PermissionRule{{
		Name:  "broken",
		Match: RuleMatch{Kind: MatchAttribute, AttributeKey: "a.[", AttributeValue: "x"},
	}})
	assert.Equal(t, 0, m.Len())
}

func TestMatcher_DepartmentUnionAndSentinel(t *testing.T) {
	t.Parallel()

	rules := []PermissionRule{
		{Name: "a", Match: RuleMatch{Kind: MatchGroup, GroupName: "A"},
			Grants: PermissionBundle{Tickets: AccessWrite, Departments: []string{"Maintenance"}}},
		{Name: "b", Match: RuleMatch{Kind: MatchGroup, GroupName: "B"},
			Grants: PermissionBundle{Inventory: AccessRead, Departments: []string{"Finance", "maintenance"}}},
		{Name: "c", Match: RuleMatch{Kind: MatchGroup, GroupName: "C"},
			Grants: PermissionBundle{Departments: []string{"All"}}},
		{Name: "d", Match: RuleMatch{Kind: MatchGroup, GroupName: "D"},
			Grants: PermissionBundle{Forms: AccessRead}},
	}
	m := NewMatcher(rules)

	ab := m.Resolve(Subject{Groups: groups("A", "B")}, "")
	assert.Equal(t, []string{"Finance", "Maintenance"}, ab.Departments)

	abc := m.Resolve(Subject{Groups: groups("A", "B", "C")}, "")
	assert.Equal(t, []string{AllDepartments}, abc.Departments)

	// An unrestricted rule with an empty list does not widen a restricted one.
	ad := m.Resolve(Subject{Groups: groups("A", "D")}, "")
	assert.Equal(t, []string{"Maintenance"}, ad.Departments)
}

func TestMatcher_DepartmentContextClampsCategories(t *testing.T) {
	t.Parallel()

	m := NewMatcher([]PermissionRule{{
		Name:  "maint",
		Match: RuleMatch{Kind: MatchGroup, GroupName: "Maint"},
		Grants: PermissionBundle{
			Role: RoleStaff, Tickets: AccessWrite, Departments: []string{"Maintenance"},
		},
	}})
	s := Subject{Groups: groups("Maint")}

	in := m.Resolve(s, "maintenance")
	assert.Equal(t, AccessWrite, in.Tickets)

	out := m.Resolve(s, "Finance")
	assert.Equal(t, AccessNone, out.Tickets)
	assert.Equal(t, RoleStaff, out.Role)
}

func TestMatcher_Deterministic(t *testing.T) {
	t.Parallel()

	rules := DefaultRules()
	subject := Subject{
		Groups:     groups("All_Students", "All_Staff", "Finance"),
		Attributes: map[string]any{"extensionAttribute10": "Director of Schools"},
	}
	want := NewMatcher(rules).Explain(subject, "")

	r := rand.New(rand.NewPCG(1, 2))
	for range 20 {
		shuffled := append([]PermissionRule(nil), rules...)
		r.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		got := NewMatcher(shuffled).Explain(subject, "")
		require.True(t, want.Bundle.Equal(got.Bundle))
		require.Equal(t, want.MatchedRules, got.MatchedRules)
	}
}

func TestMatcher_MaxMergeProperty(t *testing.T) {
	t.Parallel()

	r := rand.New(rand.NewPCG(42, 7))
	for iter := range 200 {
		n := 1 + r.IntN(6)
		rules := make([]PermissionRule, 0, n)
		var names []string
		for i := range n {
			name := fmt.Sprintf("g%d", i)
			names = append(names, name)
			rules = append(rules, PermissionRule{
				Name:     name,
				Priority: r.IntN(5),
				Match:    RuleMatch{Kind: MatchGroup, GroupName: name},
				Grants: PermissionBundle{
					Role:       Role(r.IntN(5)),
					Tickets:    AccessLevel(r.IntN(4)),
					Inventory:  AccessLevel(r.IntN(4)),
					Purchasing: AccessLevel(r.IntN(4)),
					Forms:      AccessLevel(r.IntN(4)),
				},
			})
		}

		member := names[:1+r.IntN(len(names))]
		got := NewMatcher(rules).Resolve(Subject{Groups: groups(member...)}, "")

		for _, c := range Categories() {
			want := AccessNone
			for _, rule := range rules[:len(member)] {
				want = max(want, rule.Grants.Level(c))
			}
			require.Equal(t, want, got.Level(c), "iteration %d category %s", iter, c)
		}
	}
}

func TestMatcher_SnapshotIsolation(t *testing.T) {
	t.Parallel()

	rules := []PermissionRule{{
		Name:   "a",
		Match:  RuleMatch{Kind: MatchGroup, GroupName: "A"},
		Grants: PermissionBundle{Departments: []string{"Finance"}},
	}}
	m := NewMatcher(rules)
	rules[0].Grants.Departments[0] = "Changed"
	rules[0].Match.GroupName = "Z"

	b := m.Resolve(Subject{Groups: groups("A")}, "")
	assert.Equal(t, []string{"Finance"}, b.Departments)
}

func TestMatcher_AttributeQueryCompiledOnce(t *testing.T) {
	t.Parallel()

	m := NewMatcher([]PermissionRule{
		{Name: "dir", Match: RuleMatch{Kind: MatchAttribute, AttributeKey: " ext.title ", AttributeValue: "Director"},
			Grants: PermissionBundle{Tickets: AccessAdmin}},
		{Name: "staff", Match: RuleMatch{Kind: MatchGroup, GroupName: "All_Staff"},
			Grants: PermissionBundle{Tickets: AccessRead}},
	})
	require.Equal(t, 2, m.Len())
	require.NotNil(t, m.rules[0].query)
	assert.Equal(t, "ext.title", m.rules[0].key)
	assert.Nil(t, m.rules[1].query)

	subject := Subject{Attributes: map[string]any{"ext": map[string]any{"title": "Director"}}}
	for range 3 {
		assert.Equal(t, AccessAdmin, m.Resolve(subject, "").Tickets)
	}
}
