// Package authz derives role abilities and evaluates per-route requirements.
//
// Rules are ordered; when several rules match an (action, subject) pair the
// last one wins, so narrower denies are listed after broad allows.
package authz

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/example/expensetracker/internal/apperr"
)

type Action string

const (
	ActionManage  Action = "manage" // matches every action
	ActionCreate  Action = "create"
	ActionRead    Action = "read"
	ActionUpdate  Action = "update"
	ActionDelete  Action = "delete"
	ActionList    Action = "list"
	ActionListOwn Action = "list_own"
	ActionView    Action = "view"
)

type Subject string

const (
	SubjectUser        Subject = "User"
	SubjectAdmin       Subject = "Admin"
	SubjectCategory    Subject = "Category"
	SubjectTransaction Subject = "Transaction"
	SubjectBudget      Subject = "Budget"
	SubjectAll         Subject = "all" // matches every subject
)

var knownSubjects = map[Subject]struct{}{
	SubjectUser:        {},
	SubjectAdmin:       {},
	SubjectCategory:    {},
	SubjectTransaction: {},
	SubjectBudget:      {},
	SubjectAll:         {},
}

func isKnown(s Subject) bool {
	_, ok := knownSubjects[s]
	return ok
}

// Subjecter is implemented by domain values that know their subject type.
type Subjecter interface {
	AuthzSubject() Subject
}

type Effect string

const (
	Allow Effect = "allow"
	Deny  Effect = "deny"
)

type Rule struct {
	Action  Action
	Subject Subject
	Effect  Effect
	Reason  string
}

func (r Rule) matches(action Action, subject Subject) bool {
	actionOK := r.Action == ActionManage || r.Action == action
	subjectOK := r.Subject == SubjectAll || r.Subject == subject
	return actionOK && subjectOK
}

// Identity is the authenticated caller, built fresh for every request.
type Identity struct {
	UserID int64
	Email  string
	JTI    string
	Role   string
}

// Ability is the rule list of one role.
type Ability struct {
	Rules []Rule
}

// Build returns the rules for role. Unknown roles get no rules and are
// denied everything.
func Build(role string) Ability {
	switch role {
	case "admin":
		return Ability{Rules: []Rule{{Action: ActionManage, Subject: SubjectAll, Effect: Allow}}}
	case "user":
		rules := []Rule{{Action: ActionManage, Subject: SubjectAll, Effect: Allow}}
		for _, a := range []Action{ActionCreate, ActionUpdate, ActionDelete, ActionList} {
			rules = append(rules, Rule{Action: a, Subject: SubjectAdmin, Effect: Deny, Reason: "Cannot modify Admin Info"})
		}
		for _, a := range []Action{ActionCreate, ActionUpdate, ActionDelete, ActionList} {
			rules = append(rules, Rule{Action: a, Subject: SubjectUser, Effect: Deny, Reason: "User Can't do actions with other users"})
		}
		return Ability{Rules: rules}
	}
	return Ability{}
}

// Can reports whether action on subject is allowed, and the deny reason when
// a deny rule decided it.
func (a Ability) Can(action Action, subject Subject) (bool, string) {
	for i := len(a.Rules) - 1; i >= 0; i-- {
		r := a.Rules[i]
		if !r.matches(action, subject) {
			continue
		}
		if r.Effect == Allow {
			return true, ""
		}
		return false, r.Reason
	}
	return false, ""
}

// Requirement is one (action, subject) pair a route declares. Subject may be
// a Subject, a subject name, or a value implementing Subjecter.
type Requirement struct {
	Action  Action
	Subject any
}

func Require(action Action, subject any) Requirement {
	return Requirement{Action: action, Subject: subject}
}

type Engine struct {
	// Strict rejects unresolvable subjects instead of widening them to "all".
	Strict bool
	Logger *slog.Logger
}

func NewEngine(strict bool, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{Strict: strict, Logger: logger}
}

// Resolve maps a requirement subject to a Subject. Unknown values resolve to
// SubjectAll unless the engine is strict.
func (e *Engine) Resolve(v any) (Subject, error) {
	switch s := v.(type) {
	case Subject:
		if isKnown(s) {
			return s, nil
		}
	case string:
		if isKnown(Subject(s)) {
			return Subject(s), nil
		}
	case Subjecter:
		if sub := s.AuthzSubject(); isKnown(sub) {
			return sub, nil
		}
	}

	if e.Strict {
		return "", apperr.Forbidden(fmt.Sprintf("Unknown authorization subject %T", v))
	}
	e.logger().Warn("authorization subject not recognised, falling back to all", "subject", fmt.Sprintf("%v", v), "type", fmt.Sprintf("%T", v))
	return SubjectAll, nil
}

// Evaluate checks every requirement against the identity's role. An empty
// requirement list allows the request.
func (e *Engine) Evaluate(id Identity, reqs ...Requirement) error {
	if len(reqs) == 0 {
		return nil
	}
	ability := Build(id.Role)

	var denied []string
	reason := ""
	for _, req := range reqs {
		subject, err := e.Resolve(req.Subject)
		if err != nil {
			return err
		}
		ok, why := ability.Can(req.Action, subject)
		if ok {
			continue
		}
		denied = append(denied, fmt.Sprintf("%s:%s", req.Action, subject))
		if reason == "" {
			reason = why
		}
	}
	if len(denied) == 0 {
		return nil
	}

	msg := "Insufficient permissions: " + strings.Join(denied, ", ")
	if reason != "" {
		msg = reason
	}
	err := apperr.InsufficientPermissions(msg)
	err.Details = apperr.Details{"denied": denied, "role": id.Role}
	return err
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}
