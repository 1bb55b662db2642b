package export

import (
	"bytes"
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Abmstpha/sdckit/pkg/models"
)

func exportFixture(t *testing.T) *models.Table {
	t.Helper()
	table := models.NewTable(3)
	require.NoError(t, table.AddColumn(&models.Column{
		Name: "region", Kind: models.KindCategorical,
		Cat: []string{"north", models.MissingCell, "south"},
	}))
	require.NoError(t, table.AddColumn(&models.Column{
		Name: "income", Kind: models.KindNumeric,
		Num: []float64{1250.5, 900, math.NaN()},
	}))
	return table
}

func TestExportDefaults(t *testing.T) {
	var buf bytes.Buffer
	exporter := NewCSVExporter(logrus.New())
	require.NoError(t, exporter.Export(context.Background(), &buf, exportFixture(t), Options{}))

	want := "region,income\n" +
		"north,1250.5\n" +
		"NA,900\n" +
		"south,NA\n"
	assert.Equal(t, want, buf.String())
}

func TestExportCustomDelimiterAndMarker(t *testing.T) {
	var buf bytes.Buffer
	exporter := NewCSVExporter(logrus.New())
	require.NoError(t, exporter.Export(context.Background(), &buf, exportFixture(t), Options{
		Delimiter:     ';',
		MissingMarker: ".",
	}))

	want := "region;income\n" +
		"north;1250.5\n" +
		".;900\n" +
		"south;.\n"
	assert.Equal(t, want, buf.String())
}

func TestExportFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	exporter := NewCSVExporter(logrus.New())
	require.NoError(t, exporter.ExportFile(context.Background(), exportFixture(t), path, Options{}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "region,income\n")
	assert.Contains(t, string(data), "south,NA\n")
}

func TestExportFileBadPath(t *testing.T) {
	exporter := NewCSVExporter(logrus.New())
	err := exporter.ExportFile(context.Background(), exportFixture(t), "/nonexistent-dir/out.csv", Options{})
	assert.Error(t, err)
}

func TestExportCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var buf bytes.Buffer
	exporter := NewCSVExporter(logrus.New())
	err := exporter.Export(ctx, &buf, exportFixture(t), Options{})
	assert.ErrorIs(t, err, context.Canceled)
}
