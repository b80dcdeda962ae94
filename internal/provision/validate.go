package provision

import (
	"regexp"
	"unicode/utf8"
)

// maxIDLen matches the VARCHAR(40) id columns of the realtime tables.
const maxIDLen = 40

// maxPasswordLen matches ps_auths.password.
const maxPasswordLen = 80

// tenantIDRe restricts tenant ids to characters safe in a dialplan context
// name and a file name.
var tenantIDRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// didRe validates inbound numbers: digits with an optional leading +.
var didRe = regexp.MustCompile(`^\+?\d{1,20}$`)

// trunkRe validates PJSIP endpoint names used as dial targets.
var trunkRe = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,80}$`)

// usernameRe validates extension ids. They become the PJSIP endpoint, AOR
// and auth section names.
var usernameRe = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// validateTenantID checks a tenant id. Returns an error message if invalid,
// empty string if OK.
func validateTenantID(field, value string) string {
	if value == "" {
		return field + " is required"
	}
	if len(value) > maxIDLen {
		return field + " exceeds maximum length"
	}
	if !tenantIDRe.MatchString(value) {
		return field + " must be lowercase letters, digits, '-' or '_'"
	}
	return ""
}

func validateDID(field, value string) string {
	if value == "" {
		return field + " is required"
	}
	if !didRe.MatchString(value) {
		return field + " must be digits with an optional leading +"
	}
	return ""
}

func validateTrunk(field, value string) string {
	if value == "" {
		return field + " is required"
	}
	if !trunkRe.MatchString(value) {
		return field + " must be letters, digits, '.', '-' or '_' (max 80)"
	}
	return ""
}

func validateUsername(field, value string) string {
	if value == "" {
		return field + " is required"
	}
	if len(value) > maxIDLen {
		return field + " exceeds maximum length"
	}
	if !usernameRe.MatchString(value) {
		return field + " must be letters, digits, '.', '-' or '_'"
	}
	return ""
}

func validatePassword(field, value string) string {
	if value == "" {
		return field + " is required"
	}
	if utf8.RuneCountInString(value) > maxPasswordLen {
		return field + " exceeds maximum length"
	}
	return ""
}

// collect builds a ValidationError from the non-empty messages, or
// returns nil when every check passed.
func collect(msgs ...string) error {
	var fields []string
	for _, m := range msgs {
		if m != "" {
			fields = append(fields, m)
		}
	}
	if len(fields) == 0 {
		return nil
	}
	return &ValidationError{Fields: fields}
}
