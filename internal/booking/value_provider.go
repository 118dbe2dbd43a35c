package booking

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrValueInvalid is returned when a requested value does not match any
	// pattern of the provider.
	ErrValueInvalid = errors.New("booking: value invalid")
	// ErrValueAlreadyAllocated is returned when a requested value is in use.
	ErrValueAlreadyAllocated = errors.New("booking: value already allocated")
	// ErrNoAvailableValue is returned when every generated value is in use.
	ErrNoAvailableValue = errors.New("booking: no available value")
)

// ValueProvider generates unique values (numbers, room names) from patterns.
//
// A pattern is literal text with at most one generator token:
//   - {number:FROM:TO} yields FROM..TO inclusive;
//   - {digit:N} yields 0..10^N-1 zero padded to N digits.
//
// A pattern without a token yields itself.
type ValueProvider struct {
	ID                     string
	ResourceID             string
	Patterns               []string
	AllowAnyRequestedValue bool
}

type valuePattern struct {
	prefix string
	suffix string
	from   int
	to     int
	width  int
	plain  bool
}

func (p valuePattern) format(n int) string {
	if p.width > 0 {
		return fmt.Sprintf("%s%0*d%s", p.prefix, p.width, n, p.suffix)
	}
	return p.prefix + strconv.Itoa(n) + p.suffix
}

func (p valuePattern) matches(value string) bool {
	if p.plain {
		return value == p.prefix
	}
	if !strings.HasPrefix(value, p.prefix) || !strings.HasSuffix(value, p.suffix) {
		return false
	}
	if len(value) < len(p.prefix)+len(p.suffix) {
		return false
	}
	digits := value[len(p.prefix) : len(value)-len(p.suffix)]
	n, err := strconv.Atoi(digits)
	if err != nil || n < p.from || n > p.to {
		return false
	}
	return p.format(n) == value
}

func parseValuePattern(pattern string) (valuePattern, error) {
	open := strings.Index(pattern, "{")
	if open < 0 {
		return valuePattern{prefix: pattern, plain: true}, nil
	}
	end := strings.Index(pattern[open:], "}")
	if end < 0 {
		return valuePattern{}, fmt.Errorf("booking: unterminated token in pattern %q", pattern)
	}
	end += open
	token := strings.Split(pattern[open+1:end], ":")
	parsed := valuePattern{prefix: pattern[:open], suffix: pattern[end+1:]}
	switch {
	case token[0] == "number" && len(token) == 3:
		from, errFrom := strconv.Atoi(token[1])
		to, errTo := strconv.Atoi(token[2])
		if errFrom != nil || errTo != nil || from > to || from < 0 {
			return valuePattern{}, fmt.Errorf("booking: invalid number range in pattern %q", pattern)
		}
		parsed.from, parsed.to = from, to
	case token[0] == "digit" && len(token) == 2:
		width, err := strconv.Atoi(token[1])
		if err != nil || width <= 0 || width > 9 {
			return valuePattern{}, fmt.Errorf("booking: invalid digit width in pattern %q", pattern)
		}
		parsed.width = width
		parsed.to = 1
		for i := 0; i < width; i++ {
			parsed.to *= 10
		}
		parsed.to--
	default:
		return valuePattern{}, fmt.Errorf("booking: unknown token in pattern %q", pattern)
	}
	if strings.Contains(parsed.suffix, "{") {
		return valuePattern{}, fmt.Errorf("booking: pattern %q has more than one token", pattern)
	}
	return parsed, nil
}

func (p *ValueProvider) patterns() ([]valuePattern, error) {
	out := make([]valuePattern, 0, len(p.Patterns))
	for _, raw := range p.Patterns {
		parsed, err := parseValuePattern(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, parsed)
	}
	return out, nil
}

// Validate checks that every pattern parses.
func (p *ValueProvider) Validate() error {
	_, err := p.patterns()
	return err
}

// GenerateValue returns the first value, in pattern order, absent from used.
func (p *ValueProvider) GenerateValue(used map[string]struct{}) (string, error) {
	patterns, err := p.patterns()
	if err != nil {
		return "", err
	}
	for _, pattern := range patterns {
		if pattern.plain {
			if _, taken := used[pattern.prefix]; !taken {
				return pattern.prefix, nil
			}
			continue
		}
		for n := pattern.from; n <= pattern.to; n++ {
			value := pattern.format(n)
			if _, taken := used[value]; !taken {
				return value, nil
			}
		}
	}
	return "", ErrNoAvailableValue
}

// GenerateRequestedValue validates requested against the patterns and used.
func (p *ValueProvider) GenerateRequestedValue(used map[string]struct{}, requested string) (string, error) {
	if requested == "" {
		return "", ErrValueInvalid
	}
	if !p.AllowAnyRequestedValue {
		patterns, err := p.patterns()
		if err != nil {
			return "", err
		}
		matched := false
		for _, pattern := range patterns {
			if pattern.matches(requested) {
				matched = true
				break
			}
		}
		if !matched {
			return "", ErrValueInvalid
		}
	}
	if _, taken := used[requested]; taken {
		return "", ErrValueAlreadyAllocated
	}
	return requested, nil
}
