// Package ident extracts content identifiers from the URL shapes assets are
// referenced by, and builds gateway URLs from identifiers.
//
// Extraction is pattern based and deliberately lenient: it recognizes the
// shape of an identifier without decoding it. Use Decode when a fully valid
// CID is required.
package ident

import (
	"errors"
	"regexp"
	"strings"

	"github.com/ipfs/go-cid"
)

// Scheme is the protocol prefix of content-addressed URIs.
const Scheme = "ipfs://"

// ErrEmptyIdentifier is returned by GatewayURL for an empty identifier.
var ErrEmptyIdentifier = errors.New("ident: empty identifier")

// Matcher is one entry of the extraction table.
type Matcher struct {
	Name    string
	Extract func(input string) (string, bool)
}

// bareShape matches a legacy CIDv0 (46 chars, base58btc "Qm" prefix) or a
// base32 multibase CIDv1 ("ba" prefix, e.g. "bafy...", "bafk...").
const bareShape = `(?:Qm[1-9A-HJ-NP-Za-km-z]{44}|b[aA][A-Za-z2-7]{5,})`

var (
	ipfsPathRe = regexp.MustCompile(`/ipfs/([A-Za-z0-9]+)(?:[/?#]|$)`)
	bareRe     = regexp.MustCompile(`^` + bareShape + `$`)
	suffixRe   = regexp.MustCompile(`/(` + bareShape + `)/?(?:[?#].*)?$`)
)

// matchers is evaluated in order and the first match wins.
// Callers re-derive identifiers from stored URLs, so the order is part of
// the contract.
var matchers = []Matcher{
	{Name: "ipfs-path", Extract: submatch(ipfsPathRe)},
	{Name: "scheme", Extract: fromScheme},
	{Name: "bare", Extract: fromBare},
	{Name: "suffix", Extract: fromSuffix},
}

// Matchers returns a copy of the extraction table in priority order.
func Matchers() []Matcher {
	return append([]Matcher(nil), matchers...)
}

// Extract returns the content identifier referenced by input.
//
// ok is false when no identifier shape is present; callers should then
// fetch the raw URL directly instead of treating it as a failure.
func Extract(input string) (id string, ok bool) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", false
	}
	for _, m := range matchers {
		if id, ok := m.Extract(input); ok {
			return id, true
		}
	}
	return "", false
}

// MatchedBy reports the name of the matcher that extracts input, or "".
func MatchedBy(input string) string {
	input = strings.TrimSpace(input)
	for _, m := range matchers {
		if _, ok := m.Extract(input); ok {
			return m.Name
		}
	}
	return ""
}

// GatewayURL composes {base}/ipfs/{id}. No I/O is performed.
func GatewayURL(id, base string) (string, error) {
	if id == "" {
		return "", ErrEmptyIdentifier
	}
	return strings.TrimRight(base, "/") + "/ipfs/" + id, nil
}

// URI returns the protocol-prefixed form of id.
func URI(id string) string {
	return Scheme + id
}

// Decode parses id as a CID.
func Decode(id string) (cid.Cid, error) {
	c, err := cid.Decode(id)
	if err != nil {
		return cid.Undef, err
	}
	if !c.Defined() {
		return cid.Undef, errors.New("ident: undefined cid")
	}
	return c, nil
}

func submatch(re *regexp.Regexp) func(string) (string, bool) {
	return func(input string) (string, bool) {
		m := re.FindStringSubmatch(input)
		if m == nil {
			return "", false
		}
		return m[1], true
	}
}

func fromScheme(input string) (string, bool) {
	rest, ok := strings.CutPrefix(input, Scheme)
	if !ok {
		return "", false
	}
	rest, _, _ = strings.Cut(rest, "/")
	rest, _, _ = strings.Cut(rest, "?")
	rest, _, _ = strings.Cut(rest, "#")
	if rest == "" {
		return "", false
	}
	return rest, true
}

// fromSuffix only accepts a last path segment that decodes as a CID, so
// ordinary file names of the same shape stay plain URLs.
func fromSuffix(input string) (string, bool) {
	m := suffixRe.FindStringSubmatch(input)
	if m == nil {
		return "", false
	}
	if _, err := Decode(m[1]); err != nil {
		return "", false
	}
	return m[1], true
}

func fromBare(input string) (string, bool) {
	if !bareRe.MatchString(input) {
		return "", false
	}
	return input, true
}
