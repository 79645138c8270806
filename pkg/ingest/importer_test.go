package ingest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianbio/cellflow/internal/store"
)

const header = "sample,subject,project,condition,age,sex,sample_type,treatment,response,time_from_treatment_start,b_cell,cd8_t_cell,cd4_t_cell,nk_cell,monocyte"

// fourRowSource is the 2-subjects x 2-samples fixture used across tests.
var fourRowSource = []string{
	header,
	"s1,sbj1,prj1,melanoma,55,M,PBMC,miraclib,yes,0,100,200,300,400,0",
	"s2,sbj1,prj1,melanoma,55,M,PBMC,miraclib,yes,7,50,50,50,50,50",
	"s3,sbj2,prj1,melanoma,61,F,PBMC,miraclib,no,0,10,20,30,40,100",
	"s4,sbj2,prj1,melanoma,61,F,tumor,,,,1,2,3,4,5",
}

func writeSource(t *testing.T, lines []string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cell-count.csv")
	data := ""
	for _, l := range lines {
		data += l + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	return path
}

func TestRunEndToEnd(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "trial.db")

	res, err := NewImporter(nil).Run(writeSource(t, fourRowSource), dbPath)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Subjects)
	assert.Equal(t, 4, res.Samples)
	assert.Equal(t, 20, res.CellCounts)

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	subjects, err := st.ListSubjects()
	require.NoError(t, err)
	require.Len(t, subjects, 2)
	assert.Equal(t, "sbj1", subjects[0].SubjectID)
	require.NotNil(t, subjects[0].Age)
	assert.EqualValues(t, 55, *subjects[0].Age)

	samples, err := st.ListSamples()
	require.NoError(t, err)
	require.Len(t, samples, 4)
	// s4 has no treatment, response, or timepoint.
	assert.Nil(t, samples[3].Treatment)
	assert.Nil(t, samples[3].Response)
	assert.Nil(t, samples[3].TimeFromTreatmentStart)

	counts, err := st.ListCellCounts()
	require.NoError(t, err)
	require.Len(t, counts, 20)

	// The zero-count monocyte measurement of s1 is a real row.
	found := false
	for _, cc := range counts {
		if cc.SampleID == "s1" && cc.Population == "monocyte" {
			found = true
			assert.EqualValues(t, 0, cc.Count)
		}
	}
	assert.True(t, found, "zero-count row missing")
}

func TestRunMissingFile(t *testing.T) {
	dir := t.TempDir()
	_, err := NewImporter(nil).Run(filepath.Join(dir, "nope.csv"), filepath.Join(dir, "trial.db"))
	require.ErrorIs(t, err, ErrInputNotFound)
}

func TestReadSourceHeaderValidation(t *testing.T) {
	t.Run("missing required column", func(t *testing.T) {
		path := writeSource(t, []string{
			"sample,subject,project,condition,age,sex,sample_type,treatment,response,b_cell,cd8_t_cell,cd4_t_cell,nk_cell,monocyte",
			"s1,sbj1,prj1,melanoma,55,M,PBMC,miraclib,yes,1,2,3,4,5",
		})
		_, err := ReadSource(path)
		require.ErrorIs(t, err, ErrBadHeader)
		assert.Contains(t, err.Error(), "time_from_treatment_start")
	})

	t.Run("unknown column", func(t *testing.T) {
		path := writeSource(t, []string{
			header + ",t_reg",
			"s1,sbj1,prj1,melanoma,55,M,PBMC,miraclib,yes,0,1,2,3,4,5,6",
		})
		_, err := ReadSource(path)
		require.ErrorIs(t, err, ErrBadHeader)
		assert.Contains(t, err.Error(), "t_reg")
	})

	t.Run("missing population column", func(t *testing.T) {
		path := writeSource(t, []string{
			"sample,subject,project,condition,age,sex,sample_type,treatment,response,time_from_treatment_start,b_cell,cd8_t_cell,cd4_t_cell,nk_cell",
			"s1,sbj1,prj1,melanoma,55,M,PBMC,miraclib,yes,0,1,2,3,4",
		})
		_, err := ReadSource(path)
		require.ErrorIs(t, err, ErrBadHeader)
		assert.Contains(t, err.Error(), "monocyte")
	})
}

func TestReadSourceBadValues(t *testing.T) {
	t.Run("negative count", func(t *testing.T) {
		path := writeSource(t, []string{
			header,
			"s1,sbj1,prj1,melanoma,55,M,PBMC,miraclib,yes,0,-1,2,3,4,5",
		})
		_, err := ReadSource(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "negative b_cell count")
	})

	t.Run("non-integer count", func(t *testing.T) {
		path := writeSource(t, []string{
			header,
			"s1,sbj1,prj1,melanoma,55,M,PBMC,miraclib,yes,0,ten,2,3,4,5",
		})
		_, err := ReadSource(path)
		require.Error(t, err)
	})
}

func TestDuplicateFirstWins(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "trial.db")
	// sbj1 repeats with a conflicting age; s1 repeats verbatim.
	src := writeSource(t, []string{
		header,
		"s1,sbj1,prj1,melanoma,55,M,PBMC,miraclib,yes,0,100,200,300,400,0",
		"s1,sbj1,prj1,melanoma,99,M,PBMC,miraclib,yes,0,1,1,1,1,1",
	})

	res, err := NewImporter(nil).Run(src, dbPath)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Subjects)
	assert.Equal(t, 1, res.Samples)
	assert.Equal(t, 5, res.CellCounts)

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	subjects, err := st.ListSubjects()
	require.NoError(t, err)
	require.Len(t, subjects, 1)
	require.NotNil(t, subjects[0].Age)
	assert.EqualValues(t, 55, *subjects[0].Age, "first occurrence should win")

	counts, err := st.ListCellCounts()
	require.NoError(t, err)
	require.Len(t, counts, 5)
	assert.EqualValues(t, 100, counts[0].Count, "counts from the first occurrence should win")
}

func TestReingestIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "trial.db")
	src := writeSource(t, fourRowSource)
	im := NewImporter(nil)

	res1, err := im.Run(src, dbPath)
	require.NoError(t, err)

	read := func() ([]store.Subject, []store.Sample, []store.CellCount) {
		st, err := store.Open(dbPath)
		require.NoError(t, err)
		defer st.Close()
		subjects, err := st.ListSubjects()
		require.NoError(t, err)
		samples, err := st.ListSamples()
		require.NoError(t, err)
		counts, err := st.ListCellCounts()
		require.NoError(t, err)
		return subjects, samples, counts
	}
	sub1, sam1, cc1 := read()

	res2, err := im.Run(src, dbPath)
	require.NoError(t, err)
	require.Equal(t, res1, res2)

	sub2, sam2, cc2 := read()
	assert.Equal(t, sub1, sub2)
	assert.Equal(t, sam1, sam2)
	assert.Equal(t, cc1, cc2)
}

func TestFailedRunLeavesStoreUntouched(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "trial.db")
	im := NewImporter(nil)

	_, err := im.Run(writeSource(t, fourRowSource), dbPath)
	require.NoError(t, err)

	bad := writeSource(t, []string{
		header,
		"s9,sbj9,prj1,melanoma,55,M,PBMC,miraclib,yes,0,1,2,3,4,bogus",
	})
	_, err = im.Run(bad, dbPath)
	require.Error(t, err)

	// No temp store left behind, previous contents intact.
	_, statErr := os.Stat(dbPath + ".tmp")
	assert.True(t, os.IsNotExist(statErr), "temp store should be cleaned up")

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()
	n, err := st.CountSamples()
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}
