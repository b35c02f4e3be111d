package model_test

import (
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/kioku/pkg/model"
)

func TestMergeFactsAppend(t *testing.T) {
	existing := []model.Fact{
		{Subject: "alice", Predicate: "likes", Object: "tea", Confidence: 0.6},
	}
	extracted := []model.Fact{
		{Subject: "alice", Predicate: "owns", Object: "red mug", Confidence: 0.8},
	}

	merged := model.MergeFacts(existing, extracted)
	gt.A(t, merged).Length(2)
	gt.V(t, merged[0].Object).Equal("tea")
	gt.V(t, merged[1].Object).Equal("red mug")
}

func TestMergeFactsLowerConfidenceNeverOverrides(t *testing.T) {
	existing := []model.Fact{
		{Subject: "alice", Predicate: "likes", Object: "tea", Confidence: 0.6},
	}
	extracted := []model.Fact{
		{Subject: "alice", Predicate: "likes", Object: "coffee", Confidence: 0.5},
	}

	merged := model.MergeFacts(existing, extracted)
	gt.A(t, merged).Length(1)
	gt.V(t, merged[0].Object).Equal("tea")
	gt.V(t, merged[0].Confidence).Equal(0.6)
}

func TestMergeFactsHigherConfidenceReplaces(t *testing.T) {
	existing := []model.Fact{
		{Subject: "alice", Predicate: "likes", Object: "tea", Confidence: 0.6},
	}
	extracted := []model.Fact{
		{Subject: "alice", Predicate: "likes", Object: "coffee", Confidence: 0.9},
	}

	merged := model.MergeFacts(existing, extracted)
	gt.A(t, merged).Length(1)
	gt.V(t, merged[0].Object).Equal("coffee")
	gt.V(t, merged[0].Confidence).Equal(0.9)
}

func TestMergeFactsEqualConfidenceMostRecentWins(t *testing.T) {
	existing := []model.Fact{
		{Subject: "alice", Predicate: "likes", Object: "tea", Confidence: 0.7},
	}
	extracted := []model.Fact{
		{Subject: "alice", Predicate: "likes", Object: "coffee", Confidence: 0.7},
	}

	merged := model.MergeFacts(existing, extracted)
	gt.A(t, merged).Length(1)
	gt.V(t, merged[0].Object).Equal("coffee")
}

func TestMergeFactsDoesNotMutateInputs(t *testing.T) {
	existing := []model.Fact{
		{Subject: "alice", Predicate: "likes", Object: "tea", Confidence: 0.6},
	}
	extracted := []model.Fact{
		{Subject: "alice", Predicate: "likes", Object: "coffee", Confidence: 0.9},
	}

	_ = model.MergeFacts(existing, extracted)
	gt.V(t, existing[0].Object).Equal("tea")
}

func TestFactValidate(t *testing.T) {
	valid := model.Fact{Subject: "alice", Predicate: "likes", Object: "tea", Confidence: 0.5}
	gt.NoError(t, valid.Validate())

	cases := map[string]model.Fact{
		"empty subject":       {Predicate: "likes", Object: "tea", Confidence: 0.5},
		"empty predicate":     {Subject: "alice", Object: "tea", Confidence: 0.5},
		"empty object":        {Subject: "alice", Predicate: "likes", Confidence: 0.5},
		"confidence too low":  {Subject: "alice", Predicate: "likes", Object: "tea", Confidence: -0.1},
		"confidence too high": {Subject: "alice", Predicate: "likes", Object: "tea", Confidence: 1.1},
	}
	for name, fact := range cases {
		t.Run(name, func(t *testing.T) {
			gt.Error(t, fact.Validate())
		})
	}
}

func TestProfileKeyValidate(t *testing.T) {
	valid := model.ProfileKey{RobotID: "robot-1", EntityType: model.EntityTypeUser, EntityID: "alice"}
	gt.NoError(t, valid.Validate())

	gt.Error(t, model.ProfileKey{EntityType: model.EntityTypeUser, EntityID: "alice"}.Validate())
	gt.Error(t, model.ProfileKey{RobotID: "robot-1", EntityType: model.EntityTypeUser}.Validate())
	gt.Error(t, model.ProfileKey{RobotID: "robot-1", EntityType: "animal", EntityID: "alice"}.Validate())
}

func TestProfileKey(t *testing.T) {
	profile := &model.Profile{
		RobotID:    "robot-1",
		EntityType: model.EntityTypeLocation,
		EntityID:   "kitchen",
	}

	key := profile.Key()
	gt.V(t, key.RobotID).Equal("robot-1")
	gt.V(t, key.EntityType).Equal(model.EntityTypeLocation)
	gt.V(t, key.EntityID).Equal("kitchen")
}
