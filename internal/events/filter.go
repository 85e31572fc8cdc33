package events

import "strings"

// Topic expression dialects accepted in subscription filters.
const (
	DialectConcreteSet = "http://www.onvif.org/ver10/tev/topicExpression/ConcreteSet"
	DialectConcrete    = "http://docs.oasis-open.org/wsn/t-1/TopicExpression/Concrete"
)

// SupportedDialects lists the accepted dialects in preference order.
var SupportedDialects = []string{DialectConcreteSet, DialectConcrete}

// Filter selects messages by topic.
type Filter struct {
	Dialect    string `json:"dialect"`
	Expression string `json:"expression"`
}

// NewFilter returns a filter, or nil when expression is blank. A blank
// dialect means ConcreteSet.
func NewFilter(dialect, expression string) *Filter {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return nil
	}

	dialect = strings.TrimSpace(dialect)
	if dialect == "" {
		dialect = DialectConcreteSet
	}

	return &Filter{Dialect: dialect, Expression: expression}
}

// Supported reports whether the filter's dialect is understood.
func (f *Filter) Supported() bool {
	for _, d := range SupportedDialects {
		if f.Dialect == d {
			return true
		}
	}

	return false
}

// Matches reports whether topic passes. A nil filter passes everything; an
// unsupported dialect passes nothing. Alternatives separated by "|" are
// each compared exactly.
func (f *Filter) Matches(topic string) bool {
	if f == nil {
		return true
	}

	if !f.Supported() {
		return false
	}

	for _, alt := range strings.Split(f.Expression, "|") {
		if strings.TrimSpace(alt) == topic {
			return true
		}
	}

	return false
}
