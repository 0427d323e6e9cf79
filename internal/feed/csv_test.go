package feed

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/reconciler/internal/domain"
)

func TestReadCSV(t *testing.T) {
	input := "\ufeffOrder ID, Supplier ,,Qty\n" +
		"A1,Acme,x,2\n" +
		",,,\n" +
		"B1,\"Beta, Inc\"\n"

	rows, err := ReadCSV(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, domain.Row{"Order ID": "A1", "Supplier": "Acme", "Qty": "2"}, rows[0])
	assert.Equal(t, domain.Row{"Order ID": "B1", "Supplier": "Beta, Inc", "Qty": ""}, rows[1])
}

func TestReadCSVEmpty(t *testing.T) {
	rows, err := ReadCSV(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.NotNil(t, rows)

	rows, err = ReadCSV(strings.NewReader("order_id,supplier\n"))
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestReadCSVMalformed(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("a,b\n\"unterminated,1\n"))
	assert.Error(t, err)
}

func TestReadCSVFile(t *testing.T) {
	rows, err := ReadCSVFile("")
	require.NoError(t, err)
	assert.Nil(t, rows)

	path := filepath.Join(t.TempDir(), "orders.csv")
	require.NoError(t, os.WriteFile(path, []byte("order_id\nA1\n"), 0o600))
	rows, err = ReadCSVFile(path)
	require.NoError(t, err)
	assert.Equal(t, []domain.Row{{"order_id": "A1"}}, rows)

	_, err = ReadCSVFile(filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)
}
