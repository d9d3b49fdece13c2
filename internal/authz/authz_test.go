package authz

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/expensetracker/internal/apperr"
)

type budgetLike struct{}

func (budgetLike) AuthzSubject() Subject { return SubjectBudget }

type invoiceLike struct{}

func (invoiceLike) AuthzSubject() Subject { return "Invoice" }

func TestBuildAdmin(t *testing.T) {
	a := Build("admin")
	for _, s := range []Subject{SubjectUser, SubjectAdmin, SubjectBudget, SubjectAll} {
		for _, act := range []Action{ActionCreate, ActionDelete, ActionList, ActionView} {
			ok, _ := a.Can(act, s)
			assert.True(t, ok, "%s %s", act, s)
		}
	}
}

func TestBuildUser(t *testing.T) {
	a := Build("user")

	ok, reason := a.Can(ActionCreate, SubjectUser)
	assert.False(t, ok)
	assert.Equal(t, "User Can't do actions with other users", reason)

	ok, reason = a.Can(ActionUpdate, SubjectAdmin)
	assert.False(t, ok)
	assert.Equal(t, "Cannot modify Admin Info", reason)

	ok, _ = a.Can(ActionRead, SubjectUser)
	assert.True(t, ok, "read is not among the denied actions")

	ok, _ = a.Can(ActionCreate, SubjectBudget)
	assert.True(t, ok)

	ok, _ = a.Can(ActionCreate, SubjectAll)
	assert.True(t, ok, "deny rules scoped to User do not match all")
}

func TestUnknownRoleDeniedEverything(t *testing.T) {
	ok, _ := Build("auditor").Can(ActionRead, SubjectBudget)
	assert.False(t, ok)
}

func TestLastMatchingRuleWins(t *testing.T) {
	a := Ability{Rules: []Rule{
		{Action: ActionCreate, Subject: SubjectBudget, Effect: Deny, Reason: "no"},
		{Action: ActionManage, Subject: SubjectAll, Effect: Allow},
	}}
	ok, _ := a.Can(ActionCreate, SubjectBudget)
	assert.True(t, ok)
}

func TestResolve(t *testing.T) {
	e := NewEngine(false, nil)

	s, err := e.Resolve(SubjectCategory)
	require.NoError(t, err)
	assert.Equal(t, SubjectCategory, s)

	s, err = e.Resolve("Transaction")
	require.NoError(t, err)
	assert.Equal(t, SubjectTransaction, s)

	s, err = e.Resolve(budgetLike{})
	require.NoError(t, err)
	assert.Equal(t, SubjectBudget, s)

	s, err = e.Resolve(42)
	require.NoError(t, err)
	assert.Equal(t, SubjectAll, s)

	s, err = e.Resolve(invoiceLike{})
	require.NoError(t, err)
	assert.Equal(t, SubjectAll, s, "a Subjecter naming an unknown subject widens like any other unknown")

	strict := NewEngine(true, nil)
	_, err = strict.Resolve("Invoice")
	assert.True(t, apperr.Is(err, apperr.CodeForbidden))
	_, err = strict.Resolve(invoiceLike{})
	assert.True(t, apperr.Is(err, apperr.CodeForbidden))
}

func TestEvaluate(t *testing.T) {
	e := NewEngine(false, nil)
	user := Identity{UserID: 1, Role: "user"}
	admin := Identity{UserID: 2, Role: "admin"}

	require.NoError(t, e.Evaluate(user), "no requirements allows")
	require.NoError(t, e.Evaluate(user, Require(ActionCreate, SubjectBudget), Require(ActionView, SubjectBudget)))
	require.NoError(t, e.Evaluate(admin, Require(ActionCreate, SubjectUser)))

	err := e.Evaluate(user,
		Require(ActionCreate, SubjectBudget),
		Require(ActionCreate, SubjectUser),
		Require(ActionDelete, SubjectAdmin),
	)
	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.CodeInsufficientPermissions, ae.Code)
	assert.Equal(t, 403, ae.Status)
	assert.Equal(t, "User Can't do actions with other users", ae.Message)
	assert.Equal(t, []string{"create:User", "delete:Admin"}, ae.Details["denied"])
}

func TestEvaluateStrictUnknownSubject(t *testing.T) {
	user := Identity{UserID: 1, Role: "user"}

	require.NoError(t, NewEngine(false, nil).Evaluate(user, Require(ActionCreate, struct{}{})))

	err := NewEngine(true, nil).Evaluate(user, Require(ActionCreate, struct{}{}))
	assert.True(t, apperr.Is(err, apperr.CodeForbidden))
}
