package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsLowStorage(t *testing.T) {
	tbl := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("no such table: msg"), false},
		{ErrDiskIO, true},
		{fmt.Errorf("insert: %w", ErrStorageFull), true},
		{errors.New("unable to open database file"), true},
		{fmt.Errorf("query: %w", errors.New("unable to open database file: out of memory (14)")), true},
	}
	for _, tt := range tbl {
		t.Run(fmt.Sprintf("%v", tt.err), func(t *testing.T) {
			assert.Equal(t, tt.want, IsLowStorage(tt.err))
		})
	}
}
