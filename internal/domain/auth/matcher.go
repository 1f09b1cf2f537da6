package auth

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/jmespath-community/go-jmespath"
)

// Subject is the matcher's view of an identity: its groups and raw
// provider attributes.
type Subject struct {
	Groups     []Group
	Attributes map[string]any
}

// Resolution is the outcome of evaluating the rule table for a subject.
type Resolution struct {
	Bundle       PermissionBundle
	MatchedRules []string
}

type compiledRule struct {
	rule  PermissionRule
	key   string
	query jmespath.JMESPath
}

// Matcher evaluates an immutable snapshot of the rule table. It is safe for
// concurrent use.
type Matcher struct {
	rules []compiledRule
}

// NewMatcher snapshots rules in evaluation order: attribute rules first,
// then group rules, each ordered by ascending Priority then Name.
// Attribute rules whose key does not compile are skipped.
func NewMatcher(rules []PermissionRule) *Matcher {
	ordered := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		cr := compiledRule{rule: r}
		cr.rule.Grants = r.Grants.Clone()
		if r.Match.Kind == MatchAttribute {
			key := strings.TrimSpace(r.Match.AttributeKey)
			if key == "" {
				continue
			}
			query, err := jmespath.Compile(key)
			if err != nil {
				continue
			}
			cr.key = key
			cr.query = query
		}
		ordered = append(ordered, cr)
	}

	slices.SortStableFunc(ordered, func(a, b compiledRule) int {
		if c := cmp.Compare(kindRank(a.rule.Match.Kind), kindRank(b.rule.Match.Kind)); c != 0 {
			return c
		}
		if c := cmp.Compare(a.rule.Priority, b.rule.Priority); c != 0 {
			return c
		}
		return cmp.Compare(a.rule.Name, b.rule.Name)
	})

	return &Matcher{rules: ordered}
}

func kindRank(k MatchKind) int {
	if k == MatchAttribute {
		return 0
	}
	return 1
}

// Len returns the number of rules in the snapshot.
func (m *Matcher) Len() int { return len(m.rules) }

// Resolve returns the merged bundle for subject. See Explain.
func (m *Matcher) Resolve(subject Subject, department string) PermissionBundle {
	return m.Explain(subject, department).Bundle
}

// Explain walks every rule and max-merges the bundles of those that match.
// The role and each category take the highest level granted by any matching
// rule. Department lists are unioned, and the All sentinel dominates. When
// department is non-empty and the merged list does not allow it, every
// category level is cleared. No match yields the zero bundle.
func (m *Matcher) Explain(subject Subject, department string) Resolution {
	var (
		out       PermissionBundle
		matched   []string
		depts     []string
		unlimited bool
	)

	for _, cr := range m.rules {
		if !cr.matches(subject) {
			continue
		}
		matched = append(matched, cr.rule.Name)

		g := cr.rule.Grants
		out.Role = max(out.Role, g.Role)
		for _, c := range Categories() {
			out.setLevel(c, max(out.Level(c), g.Level(c)))
		}

		for _, d := range g.Departments {
			d = strings.TrimSpace(d)
			switch {
			case d == "":
			case isAllSentinel(d):
				unlimited = true
			case !slices.ContainsFunc(depts, func(have string) bool { return strings.EqualFold(have, d) }):
				depts = append(depts, d)
			}
		}
	}

	switch {
	case unlimited:
		out.Departments = []string{AllDepartments}
	case len(depts) > 0:
		slices.Sort(depts)
		out.Departments = depts
	}

	if department != "" && !out.AllowsDepartment(department) {
		for _, c := range Categories() {
			out.setLevel(c, AccessNone)
		}
	}

	return Resolution{Bundle: out, MatchedRules: matched}
}

func (cr compiledRule) matches(s Subject) bool {
	switch cr.rule.Match.Kind {
	case MatchGroup:
		return matchGroup(cr.rule.Match, s.Groups)
	case MatchAttribute:
		return cr.matchAttribute(s.Attributes)
	default:
		return false
	}
}

func matchGroup(m RuleMatch, groups []Group) bool {
	id := strings.TrimSpace(m.GroupID)
	name := strings.TrimSpace(m.GroupName)
	for _, g := range groups {
		if id != "" && g.ID == id {
			return true
		}
		if name != "" && strings.EqualFold(strings.TrimSpace(g.Name), name) {
			return true
		}
	}
	return false
}

func (cr compiledRule) matchAttribute(attrs map[string]any) bool {
	if len(attrs) == 0 {
		return false
	}
	want := strings.TrimSpace(cr.rule.Match.AttributeValue)

	if v, ok := attrs[cr.key]; ok {
		return valueEquals(v, want)
	}
	v, err := cr.query.Search(attrs)
	if err != nil {
		return false
	}
	return valueEquals(v, want)
}

func valueEquals(v any, want string) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(t) == want
	case []any:
		return slices.ContainsFunc(t, func(e any) bool { return valueEquals(e, want) })
	case []string:
		return slices.ContainsFunc(t, func(e string) bool { return strings.TrimSpace(e) == want })
	case map[string]any:
		return false
	default:
		return fmt.Sprint(t) == want
	}
}
