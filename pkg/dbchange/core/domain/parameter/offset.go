package parameter

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// OffsetConfig binds a named variable to a time derived from the job fire time.
// Pattern is "<layout>|<offset>", for example "yyyy-MM-dd|-1d" or "yyyyMMddHH|+2h".
// The offset unit is one of s, m, h, d, w, M, y; the offset part may be omitted.
type OffsetConfig struct {
	Name    string `json:"name" yaml:"name"`
	Pattern string `json:"pattern" yaml:"pattern"`
}

var (
	placeholderRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)
	offsetRe      = regexp.MustCompile(`^([+-]?\d+)([smhdwMy])$`)
	layoutTokens  = strings.NewReplacer(
		"yyyy", "2006", "yy", "06",
		"MM", "01", "dd", "02",
		"HH", "15", "mm", "04", "ss", "05",
		"SSS", "000",
	)
)

// Validate checks the variable name and that the pattern parses.
func (o OffsetConfig) Validate() error {
	if strings.TrimSpace(o.Name) == "" {
		return errors.New("name must not be empty")
	}
	_, _, err := o.parse()
	return err
}

func (o OffsetConfig) parse() (layout string, apply func(time.Time) time.Time, err error) {
	parts := strings.SplitN(o.Pattern, "|", 2)
	if strings.TrimSpace(parts[0]) == "" {
		return "", nil, fmt.Errorf("pattern %q has no layout", o.Pattern)
	}
	layout = layoutTokens.Replace(strings.TrimSpace(parts[0]))
	apply = func(t time.Time) time.Time { return t }
	if len(parts) == 1 || strings.TrimSpace(parts[1]) == "" {
		return layout, apply, nil
	}
	m := offsetRe.FindStringSubmatch(strings.TrimSpace(parts[1]))
	if m == nil {
		return "", nil, fmt.Errorf("pattern %q has an invalid offset", o.Pattern)
	}
	n, _ := strconv.Atoi(m[1])
	switch m[2] {
	case "s":
		apply = func(t time.Time) time.Time { return t.Add(time.Duration(n) * time.Second) }
	case "m":
		apply = func(t time.Time) time.Time { return t.Add(time.Duration(n) * time.Minute) }
	case "h":
		apply = func(t time.Time) time.Time { return t.Add(time.Duration(n) * time.Hour) }
	case "d":
		apply = func(t time.Time) time.Time { return t.AddDate(0, 0, n) }
	case "w":
		apply = func(t time.Time) time.Time { return t.AddDate(0, 0, 7*n) }
	case "M":
		apply = func(t time.Time) time.Time { return t.AddDate(0, n, 0) }
	case "y":
		apply = func(t time.Time) time.Time { return t.AddDate(n, 0, 0) }
	}
	return layout, apply, nil
}

// Evaluate renders the variable for the given fire time.
func (o OffsetConfig) Evaluate(fireTime time.Time) (string, error) {
	layout, apply, err := o.parse()
	if err != nil {
		return "", err
	}
	return apply(fireTime).Format(layout), nil
}

// BindVariables substitutes ${name} placeholders in expr with the evaluated variables.
func BindVariables(expr string, vars []OffsetConfig, fireTime time.Time) (string, error) {
	if expr == "" {
		return "", nil
	}
	values := make(map[string]string, len(vars))
	for _, v := range vars {
		s, err := v.Evaluate(fireTime)
		if err != nil {
			return "", fmt.Errorf("variable %q: %w", v.Name, err)
		}
		values[v.Name] = s
	}
	var missing []string
	out := placeholderRe.ReplaceAllStringFunc(expr, func(m string) string {
		name := placeholderRe.FindStringSubmatch(m)[1]
		if v, ok := values[name]; ok {
			return v
		}
		missing = append(missing, name)
		return m
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("undefined variables: %s", strings.Join(missing, ", "))
	}
	return out, nil
}

func placeholders(expr string) []string {
	var out []string
	for _, m := range placeholderRe.FindAllStringSubmatch(expr, -1) {
		out = append(out, m[1])
	}
	return out
}
