package initdata

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/upb/tma-auth-gateway/internal/shared"
)

// Well-known init data fields
const (
	FieldHash     = "hash"
	FieldUser     = "user"
	FieldAuthDate = "auth_date"
)

// Pair is a single decoded key/value field of init data.
type Pair struct {
	Key   string
	Value string
}

// Payload is parsed init data. Fields keep their transport order.
type Payload struct {
	pairs []Pair
	index map[string]int
}

// Parse decodes a query-string encoded init data blob.
// Keys and values are form-decoded once ('+' is a space). A repeated key,
// an empty key or an invalid escape makes the whole payload malformed.
func Parse(raw string) (*Payload, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, malformed("init data is empty")
	}

	p := &Payload{index: make(map[string]int)}
	for _, segment := range strings.Split(raw, "&") {
		if segment == "" {
			continue
		}
		rawKey, rawValue, _ := strings.Cut(segment, "=")

		key, err := url.QueryUnescape(rawKey)
		if err != nil {
			return nil, malformed("invalid escape in field name")
		}
		if key == "" {
			return nil, malformed("empty field name")
		}
		value, err := url.QueryUnescape(rawValue)
		if err != nil {
			return nil, malformed(fmt.Sprintf("invalid escape in field %q", key))
		}
		if _, dup := p.index[key]; dup {
			return nil, malformed(fmt.Sprintf("repeated field %q", key))
		}

		p.index[key] = len(p.pairs)
		p.pairs = append(p.pairs, Pair{Key: key, Value: value})
	}

	if len(p.pairs) == 0 {
		return nil, malformed("init data has no fields")
	}
	return p, nil
}

// Get returns the decoded value of a field.
func (p *Payload) Get(key string) (string, bool) {
	i, ok := p.index[key]
	if !ok {
		return "", false
	}
	return p.pairs[i].Value, true
}

// Pairs returns a copy of the fields in transport order.
func (p *Payload) Pairs() []Pair {
	out := make([]Pair, len(p.pairs))
	copy(out, p.pairs)
	return out
}

// Hash returns the claimed signature.
func (p *Payload) Hash() (string, error) {
	hash, ok := p.Get(FieldHash)
	if !ok || hash == "" {
		return "", shared.ErrMissingSignature
	}
	return hash, nil
}

// CheckString builds the data-check-string: every field except "hash",
// rendered as key=value, sorted by key and joined with '\n'.
func (p *Payload) CheckString() string {
	fields := make([]Pair, 0, len(p.pairs))
	for _, pair := range p.pairs {
		if pair.Key == FieldHash {
			continue
		}
		fields = append(fields, pair)
	}

	// keys are unique, so the order is total
	sort.Slice(fields, func(i, j int) bool {
		return fields[i].Key < fields[j].Key
	})

	var b strings.Builder
	for i, pair := range fields {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(pair.Key)
		b.WriteByte('=')
		b.WriteString(pair.Value)
	}
	return b.String()
}

func malformed(reason string) error {
	return shared.NewDomainError(shared.KindMalformedPayload, "malformed init data", fmt.Errorf("%s", reason))
}
