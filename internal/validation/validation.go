// Package validation provides input validation utilities
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	MinPasswordLen = 12
	MaxPasswordLen = 128
	MinUsernameLen = 3
	MaxUsernameLen = 30
	MaxBioLen      = 500
	MaxTitleLen    = 120
	MaxContentLen  = 5000
	MaxCommentLen  = 2000
	MaxReminderLen = 200
)

var (
	digitRegex    = regexp.MustCompile(`[0-9]`)
	specialRegex  = regexp.MustCompile(`[!@#$%^&*()_+\-=\[\]{};':"\\|,.<>\/?]`)
	usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	emailRegex    = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9\-]+(\.[a-zA-Z0-9\-]+)*\.[a-zA-Z]{2,}$`)
	phoneRegex    = regexp.MustCompile(`^\+?[0-9 ()-]{7,20}$`)
)

// ValidatePassword checks if a password meets security requirements
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLen {
		return fmt.Errorf("password must be at least %d characters long", MinPasswordLen)
	}
	if len(password) > MaxPasswordLen {
		return fmt.Errorf("password must not exceed %d characters", MaxPasswordLen)
	}

	var hasUpper, hasLower bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		}
	}
	if !hasUpper {
		return errors.New("password must contain at least one uppercase letter")
	}
	if !hasLower {
		return errors.New("password must contain at least one lowercase letter")
	}
	if !digitRegex.MatchString(password) {
		return errors.New("password must contain at least one digit")
	}
	if !specialRegex.MatchString(password) {
		return errors.New("password must contain at least one special character (!@#$%^&*)")
	}
	return nil
}

// ValidatePasswordConfirmation checks the policy and that both entries match.
func ValidatePasswordConfirmation(password, confirm string) error {
	if err := ValidatePassword(password); err != nil {
		return err
	}
	if password != confirm {
		return errors.New("passwords do not match")
	}
	return nil
}

// ValidateUsername checks if a username meets requirements
func ValidateUsername(username string) error {
	if len(username) < MinUsernameLen {
		return fmt.Errorf("username must be at least %d characters long", MinUsernameLen)
	}
	if len(username) > MaxUsernameLen {
		return fmt.Errorf("username must not exceed %d characters", MaxUsernameLen)
	}
	if !usernameRegex.MatchString(username) {
		return errors.New("username can only contain letters, numbers, underscores, and hyphens")
	}

	// Cannot start or end with underscore/hyphen
	first, last := username[0], username[len(username)-1]
	if first == '_' || first == '-' || last == '_' || last == '-' {
		return errors.New("username cannot start or end with underscore or hyphen")
	}
	return nil
}

// ValidateEmail checks basic email format
func ValidateEmail(email string) error {
	if len(email) > 254 {
		return errors.New("email must not exceed 254 characters")
	}
	if !emailRegex.MatchString(email) {
		return errors.New("invalid email format")
	}
	return nil
}

// ValidatePhone accepts an empty value or a dialable number.
func ValidatePhone(phone string) error {
	if phone == "" {
		return nil
	}
	if !phoneRegex.MatchString(phone) {
		return errors.New("phone number may contain digits, spaces, parentheses and dashes (7-20 characters)")
	}
	return nil
}

// ValidateBio limits the bio length in characters.
func ValidateBio(bio string) error {
	if utf8.RuneCountInString(bio) > MaxBioLen {
		return fmt.Errorf("bio must not exceed %d characters", MaxBioLen)
	}
	return nil
}

// RequireText trims s and checks it is non-empty and at most max characters.
func RequireText(field, s string, max int) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("%s is required", field)
	}
	if utf8.RuneCountInString(s) > max {
		return "", fmt.Errorf("%s must not exceed %d characters", field, max)
	}
	return s, nil
}

// NormalizeImageKeys drops blank and repeated keys, keeping first-seen order,
// and enforces 1..max entries.
func NormalizeImageKeys(keys []string, max int) ([]string, error) {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	if len(out) == 0 {
		return nil, errors.New("at least one image is required")
	}
	if len(out) > max {
		return nil, fmt.Errorf("a post can have at most %d images", max)
	}
	return out, nil
}
