package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStepKinds(t *testing.T) {
	steps := map[StepKind]Step{
		KindValidate: Validate{},
		KindBranch:   Branch{},
		KindInsert:   Insert{},
		KindUpdate:   Update{},
		KindDelete:   Delete{},
		KindCall:     Call{},
		KindNotify:   Notify{},
		KindForeach:  Foreach{},
		KindReturn:   Return{},
	}
	for kind, s := range steps {
		assert.Equal(t, kind, s.Kind())
	}
}

func TestWalkStepsDepthFirst(t *testing.T) {
	steps := []Step{
		Validate{Code: "a"},
		Branch{
			Then: []Step{Notify{Channel: "b"}},
			Else: []Step{Foreach{Var: "c", Body: []Step{Delete{Target: "D"}}}},
		},
		Return{},
	}

	var kinds []StepKind
	WalkSteps(steps, func(s Step) { kinds = append(kinds, s.Kind()) })

	assert.Equal(t, []StepKind{KindValidate, KindBranch, KindNotify, KindForeach, KindDelete, KindReturn}, kinds)
}

func TestTriggerFor(t *testing.T) {
	assert.Equal(t, AfterCreate, TriggerFor(OpInsert))
	assert.Equal(t, AfterUpdate, TriggerFor(OpUpdate))
	assert.Equal(t, AfterDelete, TriggerFor(OpDelete))
}

func TestModelLookups(t *testing.T) {
	m := Model{Entities: []EntityDefinition{validContact()}}

	e := m.Entity("Contact")
	if assert.NotNil(t, e) {
		assert.NotNil(t, e.Field("company"))
		assert.Nil(t, e.Field("missing"))
		assert.NotNil(t, e.Action("qualify_lead"))
	}
	assert.Nil(t, m.Entity("Company"))
}
