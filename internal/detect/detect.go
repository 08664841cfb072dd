// Package detect defines the entity detection contract and the two shipped
// detectors: a fast regex pass for structured patterns (email, phone, NRIC,
// SSN, …) and an LLM pass for context-dependent entities (names,
// organizations, addresses).
package detect

import (
	"context"
	"strings"
)

// EntityType classifies the kind of sensitive data found.
type EntityType string

// Supported entity types.
const (
	EntityPerson       EntityType = "person"
	EntityOrganization EntityType = "organization"
	EntityEmail        EntityType = "email"
	EntityPhone        EntityType = "phone"
	EntityAddress      EntityType = "address"
	EntityNRIC         EntityType = "nric"
	EntitySSN          EntityType = "ssn"
	EntityDOB          EntityType = "dob"
	EntityCreditCard   EntityType = "creditCard"
	EntityIPAddress    EntityType = "ipAddress"
)

// placeholderPrefixes maps each entity type to its fixed placeholder prefix.
// Prefixes must be upper-case ASCII and must not be a prefix of one another
// in a way that makes PREFIX+digits ambiguous.
var placeholderPrefixes = map[EntityType]string{
	EntityPerson:       "PERSON",
	EntityOrganization: "ORG",
	EntityEmail:        "EMAIL",
	EntityPhone:        "PHONE",
	EntityAddress:      "ADDR",
	EntityNRIC:         "NRIC",
	EntitySSN:          "SSN",
	EntityDOB:          "DOB",
	EntityCreditCard:   "CARD",
	EntityIPAddress:    "IP",
}

// Prefix returns the placeholder prefix for the entity type, or "" for an
// unknown type.
func (t EntityType) Prefix() string {
	return placeholderPrefixes[t]
}

// Known reports whether t is a supported entity type.
func (t EntityType) Known() bool {
	_, ok := placeholderPrefixes[t]
	return ok
}

// AllTypes returns every supported entity type in a stable order.
func AllTypes() []EntityType {
	return []EntityType{
		EntityPerson, EntityOrganization, EntityEmail, EntityPhone,
		EntityAddress, EntityNRIC, EntitySSN, EntityDOB,
		EntityCreditCard, EntityIPAddress,
	}
}

// TypeForPrefix returns the entity type for a placeholder prefix.
func TypeForPrefix(prefix string) (EntityType, bool) {
	for t, p := range placeholderPrefixes {
		if p == prefix {
			return t, true
		}
	}
	return "", false
}

// RawSpan is one detector-reported occurrence of an entity, possibly a
// fragment of a larger logical entity. Offsets are global byte offsets into
// the concatenated document text.
type RawSpan struct {
	Start int
	End   int
	Type  EntityType
	Text  string
	Line  int // filled in by the pipeline from the layout's line table
}

// Detector finds entity occurrences in the full document text.
// Implementations must return spans whose Text equals text[Start:End].
type Detector interface {
	Detect(ctx context.Context, text string) ([]RawSpan, error)
}

// Multi runs several detectors in order and concatenates their spans.
// Overlapping reports across detectors are left for the span merger's
// overlap resolution. Any detector failure fails the whole detection.
type Multi []Detector

// Detect implements Detector.
func (m Multi) Detect(ctx context.Context, text string) ([]RawSpan, error) {
	var all []RawSpan
	for _, d := range m {
		spans, err := d.Detect(ctx, text)
		if err != nil {
			return nil, err
		}
		all = append(all, spans...)
	}
	return all, nil
}

// typeForLabel maps a detector-model label to an entity type. Labels follow
// the extraction prompt's vocabulary but arrive in whatever casing the model
// chose.
func typeForLabel(label string) (EntityType, bool) {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "name", "person", "personname":
		return EntityPerson, true
	case "organization", "organisation", "company", "org":
		return EntityOrganization, true
	case "emailaddress", "email":
		return EntityEmail, true
	case "phonenumber", "phone":
		return EntityPhone, true
	case "physicaladdress", "address":
		return EntityAddress, true
	case "singaporenric", "nric":
		return EntityNRIC, true
	case "socialsecuritynumber", "ssn":
		return EntitySSN, true
	case "dateofbirth", "dob":
		return EntityDOB, true
	case "creditcard", "creditcardnumber":
		return EntityCreditCard, true
	case "ipaddress", "ip":
		return EntityIPAddress, true
	}
	return "", false
}
