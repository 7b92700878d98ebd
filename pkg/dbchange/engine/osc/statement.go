package osc

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/tigerroll/undertow/pkg/dbchange/adapter/database"
	"github.com/tigerroll/undertow/pkg/dbchange/core/domain/parameter"
	"github.com/tigerroll/undertow/pkg/dbchange/support/util/exception"
)

const (
	shadowSuffix   = "_osc_new_"
	reservedSuffix = "_osc_old_"
)

var (
	identPattern     = "(?:`[^`]+`|\"[^\"]+\"|[A-Za-z0-9_$]+)"
	qualifiedPattern = identPattern + `(?:\s*\.\s*` + identPattern + `)?`
	createTableRe    = regexp.MustCompile(`(?is)^CREATE\s+TABLE\s+(?:IF\s+NOT\s+EXISTS\s+)?(` + qualifiedPattern + `)`)
	alterTableRe     = regexp.MustCompile(`(?is)^ALTER\s+TABLE\s+(?:ONLY\s+)?(` + qualifiedPattern + `)`)
	renameToRe       = regexp.MustCompile(`(?is)\bRENAME\s+(?:TO|AS)\b`)
)

// Statement is one parsed DDL statement of a schema change.
type Statement struct {
	Text string
	Kind parameter.SqlType
	// Table is the target table, unquoted, possibly schema-qualified ("shop.orders").
	Table string

	nameStart, nameEnd int
}

// Rewrite returns the statement text with the table name replaced by table.
func (s Statement) Rewrite(d database.Dialect, table string) string {
	return s.Text[:s.nameStart] + d.Quote(table) + s.Text[s.nameEnd:]
}

// ShadowName returns the shadow table name for table, keeping its schema qualifier.
func ShadowName(table string) string {
	return decorate(table, shadowSuffix)
}

// ReservedName returns the name the origin table is kept under after the swap.
func ReservedName(table string) string {
	return decorate(table, reservedSuffix)
}

func decorate(table, suffix string) string {
	bare := database.BareName(table)
	prefix := ""
	if i := strings.LastIndex(table, "."); i >= 0 {
		prefix = table[:i+1]
	}
	return prefix + "_" + bare + suffix
}

// Split cuts content into statements on delimiter, ignoring delimiters inside quotes and comments.
// Blank statements are dropped.
func Split(content, delimiter string) []string {
	if delimiter == "" {
		delimiter = ";"
	}
	var (
		out   []string
		start int
		quote byte
	)
	flush := func(end int) {
		if stmt := strings.TrimSpace(content[start:end]); stmt != "" && strings.TrimSpace(stripLeadingComments(stmt)) != "" {
			out = append(out, stmt)
		}
	}
	for i := 0; i < len(content); i++ {
		c := content[i]
		if quote != 0 {
			switch {
			case c == '\\' && quote != '`':
				i++
			case c == quote && i+1 < len(content) && content[i+1] == quote:
				i++
			case c == quote:
				quote = 0
			}
			continue
		}
		switch {
		case c == '\'' || c == '"' || c == '`':
			quote = c
		case strings.HasPrefix(content[i:], "--"):
			if nl := strings.IndexByte(content[i:], '\n'); nl >= 0 {
				i += nl
			} else {
				i = len(content)
			}
		case strings.HasPrefix(content[i:], "/*"):
			if end := strings.Index(content[i+2:], "*/"); end >= 0 {
				i += end + 3
			} else {
				i = len(content)
			}
		case strings.HasPrefix(content[i:], delimiter):
			flush(i)
			i += len(delimiter) - 1
			start = i + 1
		}
	}
	if start < len(content) {
		flush(len(content))
	}
	return out
}

func stripLeadingComments(s string) string {
	for {
		s = strings.TrimLeft(s, " \t\r\n")
		switch {
		case strings.HasPrefix(s, "--"):
			if nl := strings.IndexByte(s, '\n'); nl >= 0 {
				s = s[nl+1:]
			} else {
				return ""
			}
		case strings.HasPrefix(s, "/*"):
			if end := strings.Index(s, "*/"); end >= 0 {
				s = s[end+2:]
			} else {
				return ""
			}
		default:
			return s
		}
	}
}

// Parse recognizes CREATE TABLE and ALTER TABLE statements.
func Parse(text string) (Statement, error) {
	body := stripLeadingComments(text)
	offset := len(text) - len(body)

	kind := parameter.SqlType("")
	loc := createTableRe.FindStringSubmatchIndex(body)
	if loc != nil {
		kind = parameter.SqlTypeCreate
	} else if loc = alterTableRe.FindStringSubmatchIndex(body); loc != nil {
		kind = parameter.SqlTypeAlter
		if renameToRe.MatchString(body) {
			return Statement{}, exception.NewConfigurationError(moduleName, "renaming the table is not supported in an online schema change", nil).WithTarget(text)
		}
	} else {
		return Statement{}, exception.NewConfigurationError(moduleName, "statement is neither CREATE TABLE nor ALTER TABLE", nil).WithTarget(text)
	}

	name := body[loc[2]:loc[3]]
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = strings.Trim(strings.TrimSpace(p), "`\"")
	}
	return Statement{
		Text:      text,
		Kind:      kind,
		Table:     strings.Join(parts, "."),
		nameStart: offset + loc[2],
		nameEnd:   offset + loc[3],
	}, nil
}

// ParseAll splits content and parses every statement, checking each against the declared type.
// A table may be the target of one statement only.
func ParseAll(content, delimiter string, want parameter.SqlType) ([]Statement, error) {
	texts := Split(content, delimiter)
	if len(texts) == 0 {
		return nil, exception.NewConfigurationError(moduleName, "sqlContent contains no statement", nil)
	}
	seen := make(map[string]int, len(texts))
	stmts := make([]Statement, 0, len(texts))
	for i, text := range texts {
		st, err := Parse(text)
		if err != nil {
			return nil, err
		}
		if st.Kind != want {
			return nil, exception.NewConfigurationError(moduleName,
				fmt.Sprintf("statement %d is %s but sqlType is %s", i+1, st.Kind, want), nil).WithTarget(st.Table)
		}
		key := strings.ToLower(st.Table)
		if prev, dup := seen[key]; dup {
			return nil, exception.NewConfigurationError(moduleName,
				fmt.Sprintf("statements %d and %d both change table %s", prev, i+1, st.Table), nil).WithTarget(st.Table)
		}
		seen[key] = i + 1
		stmts = append(stmts, st)
	}
	return stmts, nil
}
