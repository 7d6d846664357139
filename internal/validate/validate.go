// Package validate gates migration units before execution. The rule set
// is closed; individual rules can be disabled by name. Validation is a
// pure function of the unit's content.
package validate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/schemactl/schemactl/internal/source"
)

type Severity string

const (
	SeverityError   Severity = "ERROR"
	SeverityWarning Severity = "WARNING"
)

type Issue struct {
	UnitID   string   `json:"unit_id"`
	Severity Severity `json:"severity"`
	Rule     string   `json:"rule"`
	Message  string   `json:"message"`
}

// Rule names.
const (
	RuleNamingConvention    = "naming-convention"
	RuleIdempotentDDL       = "idempotent-ddl"
	RuleHasPrimaryKey       = "has-primary-key"
	RuleHasAuditColumns     = "has-audit-columns"
	RuleHasDocumentation    = "has-documentation"
	RuleNoHardcodedSecret   = "no-hardcoded-secret"
	RuleReviewDestructive   = "review-destructive-statement"
	RuleReviewPrivilege     = "review-privilege-statement"
)

// Rules lists every rule name in evaluation order.
var Rules = []string{
	RuleNamingConvention,
	RuleIdempotentDDL,
	RuleHasPrimaryKey,
	RuleHasAuditColumns,
	RuleHasDocumentation,
	RuleNoHardcodedSecret,
	RuleReviewDestructive,
	RuleReviewPrivilege,
}

type ruleFunc func(u source.Unit) []Issue

var ruleFuncs = map[string]ruleFunc{
	RuleNamingConvention:  namingConvention,
	RuleIdempotentDDL:     idempotentDDL,
	RuleHasPrimaryKey:     hasPrimaryKey,
	RuleHasAuditColumns:   hasAuditColumns,
	RuleHasDocumentation:  hasDocumentation,
	RuleNoHardcodedSecret: noHardcodedSecret,
	RuleReviewDestructive: reviewDestructive,
	RuleReviewPrivilege:   reviewPrivilege,
}

type Validator struct {
	disabled map[string]bool
}

// New builds a validator with the given rules switched off. Unknown names
// are ignored.
func New(disabledRules []string) *Validator {
	disabled := make(map[string]bool, len(disabledRules))
	for _, r := range disabledRules {
		disabled[strings.TrimSpace(r)] = true
	}
	return &Validator{disabled: disabled}
}

func (v *Validator) Validate(u source.Unit) []Issue {
	var issues []Issue
	for _, name := range Rules {
		if v.disabled[name] {
			continue
		}
		issues = append(issues, ruleFuncs[name](u)...)
	}
	return issues
}

// HasError reports whether any issue is execution-blocking.
func HasError(issues []Issue) bool {
	for _, is := range issues {
		if is.Severity == SeverityError {
			return true
		}
	}
	return false
}

var (
	descRe = regexp.MustCompile(`^[a-z0-9_\-]+$`)

	// createTableStmtRe captures each CREATE TABLE statement body up to
	// its closing semicolon, so per-table checks do not bleed across
	// statements.
	createTableStmtRe = regexp.MustCompile(`(?is)create\s+table\s+(if\s+not\s+exists\s+)?` + "[`\"]?" + `([a-zA-Z0-9_.]+)` + "[`\"]?" + `[^;]*`)

	primaryKeyRe   = regexp.MustCompile(`(?i)primary\s+key`)
	createdColRe   = regexp.MustCompile(`(?i)(created_at|creation_date|created_date)`)
	updatedColRe   = regexp.MustCompile(`(?i)(updated_at|update_date|updated_date|last_modified)`)
	commentRe      = regexp.MustCompile(`(?is)(comment\s+on\s+(table|column)|comment\s*=?\s*')`)
	secretRe       = regexp.MustCompile(`(?i)(password|passwd|secret|api_key|token)\s*(=|:)\s*'[^']+'`)
	identifiedByRe = regexp.MustCompile(`(?i)identified\s+by\s+'[^']+'`)
	destructiveRe  = regexp.MustCompile(`(?i)\b(drop\s+(table|database|schema|view|index)|truncate\s+table|truncate\s+\w|delete\s+from)\b`)
	privilegeRe    = regexp.MustCompile(`(?i)\b(grant\s+|revoke\s+|create\s+user|alter\s+user|drop\s+user)`)
	ifNotExistsRe  = regexp.MustCompile(`(?i)if\s+not\s+exists`)
	orReplaceRe    = regexp.MustCompile(`(?i)or\s+replace`)
	createStmtRe   = regexp.MustCompile(`(?im)^\s*create\s+(table|index|unique\s+index|view)\b`)
)

func namingConvention(u source.Unit) []Issue {
	if u.Description != "" && descRe.MatchString(u.Description) {
		return nil
	}
	return []Issue{{
		UnitID:   u.ID.String(),
		Severity: SeverityError,
		Rule:     RuleNamingConvention,
		Message:  fmt.Sprintf("description %q must be non-empty lowercase [a-z0-9_-]", u.Description),
	}}
}

func idempotentDDL(u source.Unit) []Issue {
	if u.Kind != source.KindDDL {
		return nil
	}
	creates := createStmtRe.FindAllString(string(u.Up), -1)
	if len(creates) == 0 {
		return nil
	}
	if ifNotExistsRe.Match(u.Up) || orReplaceRe.Match(u.Up) {
		return nil
	}
	return []Issue{{
		UnitID:   u.ID.String(),
		Severity: SeverityWarning,
		Rule:     RuleIdempotentDDL,
		Message:  "create statements do not guard existence (IF NOT EXISTS / OR REPLACE)",
	}}
}

func hasPrimaryKey(u source.Unit) []Issue {
	if u.Kind != source.KindDDL {
		return nil
	}
	var issues []Issue
	for _, m := range createTableStmtRe.FindAllStringSubmatch(string(u.Up), -1) {
		stmt, table := m[0], m[2]
		if primaryKeyRe.MatchString(stmt) {
			continue
		}
		issues = append(issues, Issue{
			UnitID:   u.ID.String(),
			Severity: SeverityError,
			Rule:     RuleHasPrimaryKey,
			Message:  fmt.Sprintf("table %s is created without a primary key", table),
		})
	}
	return issues
}

func hasAuditColumns(u source.Unit) []Issue {
	if u.Kind != source.KindDDL {
		return nil
	}
	var issues []Issue
	for _, m := range createTableStmtRe.FindAllStringSubmatch(string(u.Up), -1) {
		stmt, table := m[0], m[2]
		if createdColRe.MatchString(stmt) && updatedColRe.MatchString(stmt) {
			continue
		}
		issues = append(issues, Issue{
			UnitID:   u.ID.String(),
			Severity: SeverityWarning,
			Rule:     RuleHasAuditColumns,
			Message:  fmt.Sprintf("table %s lacks creation/update timestamp columns", table),
		})
	}
	return issues
}

func hasDocumentation(u source.Unit) []Issue {
	if u.Kind != source.KindDDL {
		return nil
	}
	if len(createTableStmtRe.FindAllString(string(u.Up), -1)) == 0 {
		return nil
	}
	if commentRe.Match(u.Up) {
		return nil
	}
	return []Issue{{
		UnitID:   u.ID.String(),
		Severity: SeverityWarning,
		Rule:     RuleHasDocumentation,
		Message:  "created tables carry no table/column documentation",
	}}
}

func noHardcodedSecret(u source.Unit) []Issue {
	for _, script := range [][]byte{u.Up, u.Down} {
		if secretRe.Match(script) || identifiedByRe.Match(script) {
			return []Issue{{
				UnitID:   u.ID.String(),
				Severity: SeverityError,
				Rule:     RuleNoHardcodedSecret,
				Message:  "script contains a literal credential assignment",
			}}
		}
	}
	return nil
}

// reviewDestructive always surfaces destructive statements, even on an
// otherwise valid unit.
func reviewDestructive(u source.Unit) []Issue {
	if m := destructiveRe.FindString(string(u.Up)); m != "" {
		return []Issue{{
			UnitID:   u.ID.String(),
			Severity: SeverityWarning,
			Rule:     RuleReviewDestructive,
			Message:  fmt.Sprintf("up script contains destructive statement %q", strings.ToUpper(m)),
		}}
	}
	return nil
}

func reviewPrivilege(u source.Unit) []Issue {
	if m := privilegeRe.FindString(string(u.Up)); m != "" {
		return []Issue{{
			UnitID:   u.ID.String(),
			Severity: SeverityWarning,
			Rule:     RuleReviewPrivilege,
			Message:  fmt.Sprintf("up script contains privilege statement %q", strings.ToUpper(strings.TrimSpace(m))),
		}}
	}
	return nil
}
