package location

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/withObsrvr/obsrvr-table-replicator/internal/catalog"
	"github.com/withObsrvr/obsrvr-table-replicator/internal/storage"
)

var now = time.Date(2024, 3, 7, 9, 5, 1, 234_000_000, time.UTC)

func TestNewEventID(t *testing.T) {
	id := NewEventID(TagUnpartitioned, now)
	assert.True(t, strings.HasPrefix(id, "ctt-20240307t090501.234z-"), id)
	assert.Len(t, id, len("ctt-20240307t090501.234z-")+8)
	assert.True(t, IsEventID(id))

	pid := NewEventID(TagPartitioned, now.In(time.FixedZone("x", 3600)))
	assert.True(t, strings.HasPrefix(pid, "ctp-20240307t090501.234z-"), pid)

	assert.NotEqual(t, id, NewEventID(TagUnpartitioned, now))
}

func TestIsEventID(t *testing.T) {
	assert.False(t, IsEventID("data"))
	assert.False(t, IsEventID("ctx-20240307t090501.234z-abcdef12"))
	assert.False(t, IsEventID("ctt-20240307t090501.234z-abc"))
	assert.True(t, IsEventID("ctt-20240307t090501.234z-abcdef12"))
}

func TestTableBase(t *testing.T) {
	loc, err := TableBase("", "s3://dst/", "db", "t")
	require.NoError(t, err)
	assert.Equal(t, "s3://dst/db/t", loc.String())

	loc, err = TableBase("s3://explicit/path", "s3://dst/", "db", "t")
	require.NoError(t, err)
	assert.Equal(t, "s3://explicit/path", loc.String())

	_, err = TableBase("", "", "db", "t")
	assert.ErrorIs(t, err, ErrNoReplicaLocation)
}

func unpartitionedSource() *catalog.Table {
	return &catalog.Table{DatabaseName: "db", TableName: "t", Location: "hdfs://src/db/t"}
}

func partitionedSource() *catalog.Table {
	t := unpartitionedSource()
	t.PartitionKeys = []catalog.Column{{Name: "p", Type: "string"}}
	return t
}

func TestPlanUnpartitionedFirstRun(t *testing.T) {
	base := storage.MustParseLocation("s3://dst/db/t")
	p := NewPlan(Request{TableBase: base, Source: unpartitionedSource(), Now: now})

	assert.False(t, p.MetadataOnly)
	assert.Equal(t, "s3://dst/db/t/"+p.EventID, p.TableLocation)
	assert.Equal(t, p.TableLocation, p.DataLocation.String())
	assert.Empty(t, p.Superseded)
	assert.Empty(t, p.PreviousEventID)
}

func TestPlanUnpartitionedRerunSupersedesPrevious(t *testing.T) {
	base := storage.MustParseLocation("s3://dst/db/t")
	prev := "ctt-20240101t000000.000z-0000aaaa"
	existing := &catalog.Table{
		Location:   "s3://dst/db/t/" + prev,
		Parameters: map[string]string{catalog.ParamReplicationEvent: prev},
	}

	p := NewPlan(Request{TableBase: base, Source: unpartitionedSource(), Existing: existing, Now: now})
	assert.Equal(t, prev, p.PreviousEventID)
	assert.Equal(t, "s3://dst/db/t/"+prev, p.Superseded)
	assert.NotEqual(t, p.PreviousLocation, p.TableLocation)
}

func TestPlanDoesNotSupersedeForeignLocations(t *testing.T) {
	base := storage.MustParseLocation("s3://dst/db/t")
	for _, loc := range []string{
		"s3://dst/db/t",
		"s3://dst/db/t/not-an-event",
		"s3://dst/db/other/ctt-20240101t000000.000z-0000aaaa",
		"s3://dst/db/t/nested/ctt-20240101t000000.000z-0000aaaa",
	} {
		p := NewPlan(Request{
			TableBase: base,
			Source:    unpartitionedSource(),
			Existing:  &catalog.Table{Location: loc},
			Now:       now,
		})
		assert.Empty(t, p.Superseded, loc)
	}
}

func TestPlanPartitioned(t *testing.T) {
	base := storage.MustParseLocation("s3://dst/db/t")
	p := NewPlan(Request{TableBase: base, Source: partitionedSource(), SourcePartitions: 3, Now: now})

	assert.False(t, p.MetadataOnly)
	assert.True(t, strings.HasPrefix(p.EventID, TagPartitioned+"-"))
	assert.Equal(t, "s3://dst/db/t", p.TableLocation)
	assert.Equal(t, "s3://dst/db/t/"+p.EventID, p.DataLocation.String())
	assert.Empty(t, p.Superseded)
}

func TestPlanPartitionedWithoutPartitionsIsMetadataOnly(t *testing.T) {
	base := storage.MustParseLocation("s3://dst/db/t")

	first := NewPlan(Request{TableBase: base, Source: partitionedSource(), Now: now})
	assert.True(t, first.MetadataOnly)
	assert.Equal(t, "s3://dst/db/t", first.TableLocation)

	existing := &catalog.Table{
		Location:   "s3://dst/custom",
		Parameters: map[string]string{catalog.ParamReplicationEvent: first.EventID},
	}
	second := NewPlan(Request{TableBase: base, Source: partitionedSource(), Existing: existing, Now: now})
	assert.True(t, second.MetadataOnly)
	assert.Equal(t, "s3://dst/custom", second.TableLocation)
	assert.Equal(t, first.EventID, second.PreviousEventID)
	assert.NotEqual(t, first.EventID, second.EventID)
}

func TestPlanForcedMetadataOnlyReusesLocation(t *testing.T) {
	base := storage.MustParseLocation("s3://dst/db/t")
	existing := &catalog.Table{Location: "s3://dst/db/t/ctt-20240101t000000.000z-0000aaaa"}

	p := NewPlan(Request{
		TableBase:         base,
		Source:            unpartitionedSource(),
		Existing:          existing,
		ForceMetadataOnly: true,
		Now:               now,
	})
	assert.True(t, p.MetadataOnly)
	assert.Equal(t, existing.Location, p.TableLocation)
	assert.Empty(t, p.Superseded)
}
