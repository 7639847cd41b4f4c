package datasource

import (
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/vanderheijden86/beadnav/pkg/filter"
	"github.com/vanderheijden86/beadnav/pkg/model"
)

// ErrUnknownAttribute is returned for constraints on attributes the beads
// schema does not carry.
var ErrUnknownAttribute = errors.New("datasource: unknown attribute")

const labelsJSON = "CASE WHEN json_valid(issues.labels) THEN issues.labels ELSE '[]' END"

// compile translates a constraint into a WHERE expression over the issues
// table. Constraints on the connection attribute are decided here, since a
// store only ever holds its own connection's items.
func compile(c filter.Constraint, conn model.Connection) (string, []any, error) {
	var b strings.Builder
	var args []any
	if err := compileInto(&b, &args, c, conn); err != nil {
		return "", nil, err
	}
	return b.String(), args, nil
}

func compileInto(b *strings.Builder, args *[]any, c filter.Constraint, conn model.Connection) error {
	switch v := c.(type) {
	case nil, filter.True:
		b.WriteString("1")
	case filter.Equals:
		if v.Negated {
			b.WriteString("NOT ")
		}
		b.WriteString("(")
		if err := compileEquals(b, args, v, conn); err != nil {
			return err
		}
		b.WriteString(")")
	case filter.And:
		return compileList(b, args, v.Children, " AND ", "1", conn)
	case filter.Or:
		return compileList(b, args, v.Children, " OR ", "0", conn)
	case filter.Not:
		b.WriteString("NOT (")
		if err := compileInto(b, args, v.Child, conn); err != nil {
			return err
		}
		b.WriteString(")")
	case filter.Text:
		b.WriteString("(title LIKE ? ESCAPE '\\' OR id = ?)")
		*args = append(*args, "%"+escapeLike(v.Query)+"%", v.Query)
	default:
		return fmt.Errorf("datasource: unsupported constraint %T", c)
	}
	return nil
}

func compileList(b *strings.Builder, args *[]any, cs []filter.Constraint, sep, empty string, conn model.Connection) error {
	if len(cs) == 0 {
		b.WriteString(empty)
		return nil
	}
	b.WriteString("(")
	for i, child := range cs {
		if i > 0 {
			b.WriteString(sep)
		}
		if err := compileInto(b, args, child, conn); err != nil {
			return err
		}
	}
	b.WriteString(")")
	return nil
}

func compileEquals(b *strings.Builder, args *[]any, e filter.Equals, conn model.Connection) error {
	missing := e.Value == model.NullValue
	switch e.Attr {
	case model.AttrConnection:
		if !missing && (e.Value == conn.Key || strings.EqualFold(e.Name, conn.Name)) {
			b.WriteString("1")
		} else {
			b.WriteString("0")
		}
	case model.AttrStatus:
		if missing {
			b.WriteString("COALESCE(status, '') = ''")
			return nil
		}
		b.WriteString("status = ?")
		*args = append(*args, e.Name)
	case model.AttrPriority:
		if missing {
			b.WriteString("priority IS NULL")
			return nil
		}
		n, ok := priorityName(e.Name)
		if !ok {
			b.WriteString("0")
			return nil
		}
		b.WriteString("priority = ?")
		*args = append(*args, n)
	case model.AttrType:
		if missing {
			b.WriteString("COALESCE(issue_type, '') = ''")
			return nil
		}
		b.WriteString("issue_type = ?")
		*args = append(*args, e.Name)
	case model.AttrAssignee:
		b.WriteString("COALESCE(assignee, '') = ?")
		*args = append(*args, e.Name)
	case model.AttrLabel:
		if missing {
			b.WriteString("NOT EXISTS (SELECT 1 FROM json_each(" + labelsJSON + ") WHERE value NOT LIKE 'tag:%')")
			return nil
		}
		b.WriteString("EXISTS (SELECT 1 FROM json_each(" + labelsJSON + ") WHERE value = ?)")
		*args = append(*args, e.Name)
	case model.AttrTag:
		if missing {
			b.WriteString("NOT EXISTS (SELECT 1 FROM json_each(" + labelsJSON + ") WHERE value LIKE 'tag:%')")
			return nil
		}
		b.WriteString("EXISTS (SELECT 1 FROM json_each(" + labelsJSON + ") WHERE value = ?)")
		*args = append(*args, tagPrefix+e.Name)
	case model.AttrEpic:
		if missing {
			b.WriteString("NOT EXISTS (SELECT 1 FROM dependencies d WHERE d.issue_id = issues.id AND d.dependency_type = 'parent-child')")
			return nil
		}
		b.WriteString("EXISTS (SELECT 1 FROM dependencies d WHERE d.issue_id = issues.id AND d.dependency_type = 'parent-child' AND d.depends_on_id = ?)")
		*args = append(*args, e.Name)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownAttribute, e.Attr)
	}
	return nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// parseJSONStringArray parses the labels column, a JSON array of strings.
func parseJSONStringArray(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == "null" || s == "[]" {
		return nil
	}

	var result []string
	if err := json.Unmarshal([]byte(s), &result); err != nil {
		// Fallback to simple parser for malformed JSON
		s = strings.TrimPrefix(s, "[")
		s = strings.TrimSuffix(s, "]")
		if s == "" {
			return nil
		}
		for _, item := range strings.Split(s, ",") {
			item = strings.TrimSpace(item)
			item = strings.Trim(item, `"`)
			if item != "" {
				result = append(result, item)
			}
		}
	}
	return result
}
