package mongostore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

type jobSettings struct {
	VMSize string `yaml:"vmSize"`
}

type serviceConfig struct {
	Job     jobSettings   `yaml:"job"`
	Brokers []string      `yaml:"brokers"`
	Timeout time.Duration `yaml:"timeout"`
	Workers int           `yaml:"workers"`
}

func TestFromDocumentUsesYAMLKeys(t *testing.T) {
	doc := bson.M{
		"_id":     "encryptdispatcher",
		"job":     bson.D{{Key: "vmSize", Value: "Standard_D4s_v3"}},
		"brokers": bson.A{"k1:9092", "k2:9092"},
		"timeout": "45m",
		"workers": int32(6),
	}
	var cfg serviceConfig
	require.NoError(t, fromDocument(doc, &cfg))
	assert.Equal(t, "Standard_D4s_v3", cfg.Job.VMSize)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Brokers)
	assert.Equal(t, 45*time.Minute, cfg.Timeout)
	assert.Equal(t, 6, cfg.Workers)
}

func TestToDocumentMatchesFromDocument(t *testing.T) {
	in := serviceConfig{Job: jobSettings{VMSize: "Standard_A1_v2"}, Timeout: time.Hour, Workers: 2}
	doc, err := toDocument(in)
	require.NoError(t, err)
	assert.Contains(t, doc, "job")
	assert.NotContains(t, doc, "Job")

	var out serviceConfig
	require.NoError(t, fromDocument(doc, &out))
	assert.Equal(t, in, out)
}
