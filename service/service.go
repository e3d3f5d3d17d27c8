package service

import (
	"regexp"
	"sync/atomic"

	"github.com/bmatcuk/doublestar/v4"
)

// UnsetID marks a service that has not been assigned an id yet.
const UnsetID int64 = -1

// Kind discriminates the service variants in the stored representation.
type Kind string

const (
	KindRegex Kind = "regex"
	KindAnt   Kind = "ant"
)

// Attributes are the fields shared by every service variant.
type Attributes struct {
	ID                int64    `json:"id"`
	Name              string   `json:"name"`
	Description       string   `json:"description,omitempty"`
	ServiceID         string   `json:"serviceId"`
	Theme             string   `json:"theme,omitempty"`
	UsernameAttribute string   `json:"usernameAttribute,omitempty"`
	Enabled           bool     `json:"enabled"`
	SSOEnabled        bool     `json:"ssoEnabled"`
	AllowedToProxy    bool     `json:"allowedToProxy"`
	AnonymousAccess   bool     `json:"anonymousAccess"`
	IgnoreAttributes  bool     `json:"ignoreAttributes"`
	EvaluationOrder   int      `json:"evaluationOrder"`
	AllowedAttributes []string `json:"allowedAttributes,omitempty"`
}

// Service is a registered service. The set of implementations is closed:
// *RegexService and *AntPatternService.
type Service interface {
	Kind() Kind
	// Common returns the shared attributes. Mutations are visible to the service.
	Common() *Attributes
	// Matches reports whether a service URL is covered by this registration.
	Matches(url string) bool

	isService()
}

// RegexService matches service URLs against a regular expression.
type RegexService struct {
	Attributes
	CaseInsensitive bool `json:"caseInsensitive,omitempty"`

	compiled atomic.Pointer[compiledPattern]
}

// compiledPattern is the expression last built from source. re is nil when
// source does not compile.
type compiledPattern struct {
	source string
	re     *regexp.Regexp
}

func (*RegexService) Kind() Kind { return KindRegex }

func (s *RegexService) Common() *Attributes { return &s.Attributes }

// Matches requires the whole URL to match ServiceID. The expression is
// compiled once and rebuilt only after ServiceID or CaseInsensitive change.
func (s *RegexService) Matches(url string) bool {
	re := s.expression()
	return re != nil && re.MatchString(url)
}

func (s *RegexService) expression() *regexp.Regexp {
	source := "^(?:" + s.ServiceID + ")$"
	if s.CaseInsensitive {
		source = "(?i)" + source
	}
	if c := s.compiled.Load(); c != nil && c.source == source {
		return c.re
	}
	re, err := regexp.Compile(source)
	if err != nil {
		re = nil
	}
	s.compiled.Store(&compiledPattern{source: source, re: re})
	return re
}

func (*RegexService) isService() {}

// AntPatternService matches service URLs against an Ant-style pattern
// where "*" stays within a path segment and "**" spans segments.
type AntPatternService struct {
	Attributes
}

func (*AntPatternService) Kind() Kind { return KindAnt }

func (s *AntPatternService) Common() *Attributes { return &s.Attributes }

func (s *AntPatternService) Matches(url string) bool {
	ok, err := doublestar.Match(s.ServiceID, url)
	return err == nil && ok
}

func (*AntPatternService) isService() {}

// NewRegex returns an enabled regex service with an unset id.
func NewRegex(name, pattern string) *RegexService {
	return &RegexService{Attributes: newAttributes(name, pattern)}
}

// NewAntPattern returns an enabled ant-pattern service with an unset id.
func NewAntPattern(name, pattern string) *AntPatternService {
	return &AntPatternService{Attributes: newAttributes(name, pattern)}
}

func newAttributes(name, pattern string) Attributes {
	return Attributes{
		ID:         UnsetID,
		Name:       name,
		ServiceID:  pattern,
		Enabled:    true,
		SSOEnabled: true,
	}
}
