package filter

import (
	"testing"

	"github.com/sigil-systems/ingestord/internal/model"
	"github.com/stretchr/testify/assert"
)

func TestKeep_EmptyRulesPassThrough(t *testing.T) {
	record := model.CanonicalLog{Event: "level=DEBUG msg=hi"}
	assert.True(t, Keep(record, nil))
}

func TestKeep_DropsOnMatch(t *testing.T) {
	rules := []model.FilterRule{{FieldName: "level", MatchValue: "DEBUG", Enabled: true}}
	assert.False(t, Keep(model.CanonicalLog{Event: "level=DEBUG msg=hi"}, rules))
	assert.True(t, Keep(model.CanonicalLog{Event: "level=INFO msg=hi"}, rules))
}

func TestKeep_AbsentFieldMeansNoMatch(t *testing.T) {
	rules := []model.FilterRule{{FieldName: "level", MatchValue: "DEBUG", Enabled: true}}
	assert.True(t, Keep(model.CanonicalLog{Event: "msg=hi"}, rules))
}

func TestKeep_ANDSemanticsAcrossRules(t *testing.T) {
	rules := []model.FilterRule{
		{FieldName: "level", MatchValue: "DEBUG", Enabled: true},
		{FieldName: "service", MatchValue: "api", Enabled: true},
	}
	// Only level matches - should be kept (not all rules match).
	assert.True(t, Keep(model.CanonicalLog{Event: "level=DEBUG service=web"}, rules))
	// Both match - dropped.
	assert.False(t, Keep(model.CanonicalLog{Event: "level=DEBUG service=api"}, rules))
}

func TestKeep_DisabledRuleIgnored(t *testing.T) {
	rules := []model.FilterRule{{FieldName: "level", MatchValue: "DEBUG", Enabled: false}}
	assert.True(t, Keep(model.CanonicalLog{Event: "level=DEBUG"}, rules))
}

func TestApply_FiltersBatch(t *testing.T) {
	rules := []model.FilterRule{{FieldName: "level", MatchValue: "DEBUG", Enabled: true}}
	batch := []model.CanonicalLog{
		{Event: "level=INFO msg=hi", Source: "S3"},
		{Event: "level=DEBUG msg=hi", Source: "S3"},
	}
	out := Apply(batch, rules)
	assert.Len(t, out, 1)
}
