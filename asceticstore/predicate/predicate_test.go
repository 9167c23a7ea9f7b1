package predicate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krew-solutions/ascetic-store-go/asceticstore/record"
	s "github.com/krew-solutions/ascetic-store-go/asceticstore/specification/domain"
	"github.com/krew-solutions/ascetic-store-go/asceticstore/specification/domain/operators"
)

type task struct {
	record.Base
}

func (*task) EntityName() string { return "Task" }

type label struct {
	record.Base
}

func (*label) EntityName() string { return "Label" }

var (
	taskTitle    = String[task]("title")
	taskPriority = Attr[task, int]("priority")
	taskDone     = Attr[task, bool]("done")
	taskDue      = Attr[task, time.Time]("due")
	taskTags     = Collection[task, string]("tags")
	taskScores   = Collection[task, int]("scores")
	taskOwner    = Attr[task, map[string]any]("owner")
	labelName    = String[label]("name")
)

func TestPath_Comparisons(t *testing.T) {
	cases := []struct {
		p        Predicate[task]
		expected string
	}{
		{taskTitle.Eq("Milk"), `title ==[cd] "Milk"`},
		{taskTitle.Eq("Milk", Exact()), `title == "Milk"`},
		{taskTitle.Eq("Milk", DiacriticSensitive()), `title ==[c] "Milk"`},
		{taskTitle.Ne("Milk", CaseSensitive()), `title !=[d] "Milk"`},
		{taskTitle.Like("gro*"), `title LIKE[cd] "gro*"`},
		{taskTitle.Contains("ilk", Exact()), `title CONTAINS "ilk"`},
		{taskTitle.NotContains("milk"), `NOT title CONTAINS[cd] "milk"`},
		{taskPriority.Gte(3), `priority >= 3`},
		{taskPriority.Lt(3, CaseSensitive()), `priority < 3`},
		{taskDone.Eq(false), `done == false`},
		{taskDue.IsNil(), `due == nil`},
		{taskDue.IsNotNil(), `due != nil`},
		{taskTags.Any().Eq("home"), `ANY tags ==[cd] "home"`},
		{taskScores.All().Gt(1), `ALL scores > 1`},
		{True[task](), `TRUEPREDICATE`},
		{False[task](), `FALSEPREDICATE`},
		{Predicate[task]{}, `TRUEPREDICATE`},
	}
	for _, c := range cases {
		assert.Equal(t, c.expected, c.p.String())
	}
}

func TestNotContains_IsRaw(t *testing.T) {
	raw, ok := taskTitle.NotContains("milk").Node().(s.RawNode)
	require.True(t, ok)
	assert.Equal(t, "NOT title CONTAINS[cd] %@", raw.Format())
	assert.Equal(t, []any{"milk"}, raw.Args())
}

func TestCombinators(t *testing.T) {
	a := taskPriority.Eq(1)
	b := taskPriority.Eq(2)

	assert.Equal(t, True[task](), And[task]())
	assert.Equal(t, False[task](), Or[task]())
	assert.Equal(t, a, And(a))
	assert.Equal(t, a, Or(a, Predicate[task]{}))
	assert.Equal(t, `priority == 1 AND priority == 2`, And(a, Predicate[task]{}, b).String())
	assert.Equal(t, `NOT (priority == 1 OR priority == 2)`, Not(Or(a, b)).String())
	assert.Equal(t, False[task](), Not(Predicate[task]{}))
}

func TestCombinators_StructuralEquality(t *testing.T) {
	assert.Equal(t, And(taskTitle.Eq("x"), taskDone.Eq(true)), And(taskTitle.Eq("x"), taskDone.Eq(true)))
	assert.NotEqual(t, taskTitle.Eq("x"), taskTitle.Eq("x", Exact()))
}

func TestBuilder(t *testing.T) {
	query := "milk"
	onlyOpen := false

	p := NewAnd[task]().
		AddIf(query != "", taskTitle.Contains(query)).
		AddIf(onlyOpen, taskDone.Eq(false)).
		Either(onlyOpen, taskPriority.Gt(0), taskPriority.Gte(0)).
		Build()
	assert.Equal(t, `title CONTAINS[cd] "milk" AND priority >= 0`, p.String())

	assert.Equal(t, False[task](), NewOr[task]().AddIf(false, taskDone.Eq(true)).Build())
	assert.Equal(t, `done == true OR done == false`,
		NewOr[task]().Add(taskDone.Eq(true), taskDone.Eq(false)).Build().String())
}

func TestSortKey(t *testing.T) {
	assert.Equal(t, "priority ASC", taskPriority.Asc().String())
	assert.Equal(t, "title DESC", taskTitle.Desc().String())
	assert.False(t, taskTitle.Desc().Ascending())

	key, err := SortBy[task]("due", true)
	require.NoError(t, err)
	assert.Equal(t, taskDue.Asc(), key)

	_, err = SortBy[task]("1due", true)
	assert.Error(t, err)
}

func TestAttr_PanicsOnConflict(t *testing.T) {
	assert.Panics(t, func() { Attr[task, string]("priority") })
	assert.Panics(t, func() { Attr[task, string]("not a key") })
	assert.NotPanics(t, func() { Attr[task, int]("priority") })
}

func TestPath_GetSet(t *testing.T) {
	r := record.Wrap[task](record.NewObject(record.NewObjectID("Task"), map[string]any{
		"priority": float64(2),
		"tags":     []any{"a", "b"},
	}))
	assert.Equal(t, 2, taskPriority.Get(r))
	assert.Equal(t, []string{"a", "b"}, taskTags.Get(r))

	taskTitle.Set(r, "Milk")
	assert.Equal(t, "Milk", taskTitle.Get(r))
	assert.True(t, r.Object().HasChanges())

	taskTitle.Set(r, "")
	r.Object().Set("priority", "high")
	_, err := taskPriority.Lookup(r)
	assert.ErrorIs(t, err, record.ErrTypeMismatch)
	assert.Equal(t, 0, taskPriority.Get(r))
}

func TestFieldInterface(t *testing.T) {
	fields := []Field[task]{taskTitle, taskPriority, taskTags}
	keys := make([]string, 0, len(fields))
	for _, f := range fields {
		keys = append(keys, f.Key())
	}
	assert.Equal(t, []string{"title", "priority", "tags"}, keys)
	assert.Equal(t, "name", labelName.Key())
}

func TestRaw(t *testing.T) {
	p, err := Raw[task]("title ==[cd] %@ AND priority > 2", "Milk")
	require.NoError(t, err)
	assert.Equal(t, `title ==[cd] "Milk" AND priority > 2`, p.String())

	raw := p.Node().(s.RawNode)
	and := raw.Parsed().(s.InfixNode)
	priority := and.Right().(s.ComparisonNode)
	assert.Equal(t, 2, priority.Right().Value())
}

func TestRaw_CoercesCollectionElements(t *testing.T) {
	p, err := Raw[task]("ANY scores == 4")
	require.NoError(t, err)
	cmp := p.Node().(s.RawNode).Parsed().(s.ComparisonNode)
	assert.Equal(t, 4, cmp.Right().Value())
}

func TestRaw_Errors(t *testing.T) {
	_, err := Raw[task]("color == %@", "red")
	assert.ErrorIs(t, err, ErrUnknownAttribute)

	_, err = Raw[task]("colour == nil")
	assert.ErrorIs(t, err, ErrUnknownAttribute)

	_, err = Raw[task]("priority == %@", "high")
	assert.ErrorIs(t, err, record.ErrTypeMismatch)

	_, err = Raw[task]("ANY priority == 1")
	assert.ErrorIs(t, err, record.ErrTypeMismatch)

	_, err = Raw[task]("title ==")
	var syntax *s.SyntaxError
	assert.ErrorAs(t, err, &syntax)
}

func TestRaw_NestedKey(t *testing.T) {
	p, err := Raw[task]("owner.name == %@", "Ann")
	require.NoError(t, err)
	assert.Equal(t, `owner.name == "Ann"`, p.String())

	_, err = Raw[task]("manager.name == %@", "Ann")
	assert.ErrorIs(t, err, ErrUnknownAttribute)
}

func TestCompare(t *testing.T) {
	p, err := Compare[task]("priority", operators.OperatorGt, 2)
	require.NoError(t, err)
	assert.Equal(t, taskPriority.Gt(2), p)

	p, err = Compare[task]("title", operators.OperatorEq, "Milk")
	require.NoError(t, err)
	assert.Equal(t, taskTitle.Eq("Milk"), p)

	p, err = Compare[task]("due", operators.OperatorEq, nil)
	require.NoError(t, err)
	assert.Equal(t, taskDue.IsNil(), p)

	_, err = Compare[task]("priority", operators.OperatorGt, int64(2))
	assert.ErrorIs(t, err, record.ErrTypeMismatch)

	_, err = Compare[task]("color", operators.OperatorEq, "red")
	assert.ErrorIs(t, err, ErrUnknownAttribute)

	_, err = Compare[task]("priority", operators.OperatorAnd, 2)
	assert.Error(t, err)

	_ = taskOwner
}
