package pipeline

import (
	"regexp"
	"strings"
)

// Metadata is what a recording filename carries about the call. Sales
// reps name files "公司-联系人-电话" by convention, but every variation
// of that shows up in practice.
type Metadata struct {
	Company string `json:"company"`
	Contact string `json:"contact"`
	Phone   string `json:"phone"`
}

// UnknownCompany is used when a filename yields contact or phone data
// but no usable company name.
const UnknownCompany = "未知公司"

var (
	mobileRe   = regexp.MustCompile(`^(\+86)?1[3-9]\d{9}$`)
	generalRe  = regexp.MustCompile(`^(\+86)?\d{8,15}$`)
	landlineRe = regexp.MustCompile(`^\d{3,4}-?\d{7,8}$`)
	digitsRe   = regexp.MustCompile(`^\d+$`)
)

// ParseFilename extracts company, contact and phone from a recording
// filename (extension already stripped or not, both work). Parts are
// split on "-"; which part is the phone number is decided by shape,
// scanning right to left when the name has extra hyphens.
func ParseFilename(filename string) Metadata {
	name := filename
	if idx := strings.LastIndex(name, "."); idx > 0 {
		name = name[:idx]
	}
	name = strings.TrimPrefix(name, "temp_")

	parts := strings.Split(name, "-")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	var meta Metadata
	switch len(parts) {
	case 1:
		meta.Company = parts[0]

	case 2:
		meta.Company = parts[0]
		if isPhoneNumber(parts[1]) {
			meta.Phone = cleanPhoneNumber(parts[1])
		} else {
			meta.Contact = parts[1]
		}

	case 3:
		meta.Company = parts[0]
		meta.Contact = parts[1]
		if isPhoneNumber(parts[2]) {
			meta.Phone = cleanPhoneNumber(parts[2])
		} else {
			// Not a phone: treat the tail as a hyphenated contact name
			meta.Contact = parts[1] + "-" + parts[2]
		}

	default:
		// More than three parts: find the phone scanning right to
		// left, the part before it is the contact, everything earlier
		// is the company.
		found := false
		for i := len(parts) - 1; i >= 0; i-- {
			if isPhoneNumber(parts[i]) {
				meta.Phone = cleanPhoneNumber(parts[i])
				if i > 0 {
					meta.Contact = parts[i-1]
				}
				companyEnd := i - 1
				if companyEnd < 1 {
					companyEnd = 1
				}
				meta.Company = strings.Join(parts[:companyEnd], "-")
				found = true
				break
			}
		}
		if !found {
			meta.Contact = parts[len(parts)-1]
			meta.Company = strings.Join(parts[:len(parts)-1], "-")
		}
	}

	if meta.Company == "" && meta.Contact == "" && meta.Phone == "" {
		meta.Company = name
	} else if meta.Company == "" {
		meta.Company = UnknownCompany
	}
	return meta
}

// isPhoneNumber reports whether text looks like a Chinese phone
// number: a mobile number, a general 8-15 digit number, a landline
// with area code, or any all-digit string of plausible length.
func isPhoneNumber(text string) bool {
	clean := stripPhoneSeparators(text)
	if clean == "" {
		return false
	}
	if mobileRe.MatchString(clean) || generalRe.MatchString(clean) || landlineRe.MatchString(clean) {
		return true
	}
	return digitsRe.MatchString(clean) && len(clean) >= 7 && len(clean) <= 15
}

func cleanPhoneNumber(phone string) string {
	return stripPhoneSeparators(phone)
}

func stripPhoneSeparators(s string) string {
	s = strings.Join(strings.Fields(s), "")
	return strings.ReplaceAll(s, "-", "")
}
