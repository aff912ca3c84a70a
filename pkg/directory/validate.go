package directory

import (
	"fmt"
	"net/mail"
	"strings"
	"unicode"
)

// Validate checks the directory for structural correctness.
func Validate(d *Directory) []error {
	var errs []error

	if d.Version != 1 {
		errs = append(errs, fmt.Errorf("version must be 1, got %d", d.Version))
	}

	for name, u := range d.Users {
		errs = append(errs, validateUser(name, u)...)
	}

	return errs
}

func validateUser(name string, u User) []error {
	var errs []error

	switch {
	case name == "":
		errs = append(errs, fmt.Errorf("user name is required"))
	case strings.IndexFunc(name, unicode.IsSpace) >= 0:
		errs = append(errs, fmt.Errorf("user %q: name must not contain whitespace", name))
	}

	if u.Email == "" {
		errs = append(errs, fmt.Errorf("user %q: email is required", name))
	} else if addr, err := mail.ParseAddress(u.Email); err != nil || addr.Address != u.Email {
		errs = append(errs, fmt.Errorf("user %q: invalid email %q", name, u.Email))
	}

	return errs
}
