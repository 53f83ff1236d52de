package export

import (
	"path/filepath"
	"testing"

	"github.com/janekbaraniewski/counterstats/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestWriteWorkbook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "top.xlsx")
	err := WriteWorkbook(path, "TR_J1 top", []string{"title", "print_issn", "total"}, [][]any{
		{"Journal A", "1234-5678", int64(12)},
		{"Journal B", nil, 3.5},
	})
	require.NoError(t, err)
	assert.NoFileExists(t, path+".tmp")

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"TR_J1 top"}, f.GetSheetList())
	rows, err := f.GetRows("TR_J1 top")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"Title", "Print_ISSN", "Total"}, rows[0])
	assert.Equal(t, []string{"Journal A", "1234-5678", "12"}, rows[1])
	assert.Equal(t, "Journal B", rows[2][0])
	assert.Equal(t, "3.5", rows[2][2])

	typ, err := f.GetCellType("TR_J1 top", "C2")
	require.NoError(t, err)
	assert.NotContains(t, []excelize.CellType{excelize.CellTypeSharedString, excelize.CellTypeInlineString}, typ)
}

func TestWriteResult(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chart.xlsx")
	res := store.Result{
		Columns: []string{"title", "january"},
		Records: []store.Record{
			{"title": "A", "january": int64(4)},
			{"title": "B", "january": int64(0)},
		},
	}
	require.NoError(t, WriteResult(path, "chart", res))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("chart")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"Title", "January"}, {"A", "4"}, {"B", "0"}}, rows)
}

func TestSheetName(t *testing.T) {
	assert.Equal(t, "Sheet1", SheetName("  "))
	assert.Equal(t, "a_b_c", SheetName("a/b:c"))
	assert.Equal(t, "abcdefghijklmnopqrstuvwxyz01234", SheetName("abcdefghijklmnopqrstuvwxyz0123456789"))
}
