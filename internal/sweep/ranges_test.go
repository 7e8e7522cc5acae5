package sweep

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/disparity/internal/stereo"
)

func TestParseIntRangeSpec(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    IntRangeSpec
		wantErr string
	}{
		{"3:11:2", IntRangeSpec{3, 11, 2}, ""},
		{" 0 : 8 : 4 ", IntRangeSpec{0, 8, 4}, ""},
		{"1:2", IntRangeSpec{}, "expected min:max:step"},
		{"a:2:1", IntRangeSpec{}, "invalid min"},
		{"1:b:1", IntRangeSpec{}, "invalid max"},
		{"1:2:c", IntRangeSpec{}, "invalid step"},
		{"1:5:0", IntRangeSpec{}, "step must be positive"},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseIntRangeSpec(tc.in)
			if tc.wantErr != "" {
				assert.ErrorContains(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestIntRangeSpec_Values(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []int{3, 5, 7, 9, 11}, IntRangeSpec{3, 11, 2}.Values())
	assert.Equal(t, []int{0, 4}, IntRangeSpec{0, 7, 4}.Values(), "max is not forced in")
	assert.Nil(t, IntRangeSpec{5, 1, 1}.Values())
	assert.Nil(t, IntRangeSpec{0, maxValues * 2, 1}.Values())
}

func TestParseIntParamList(t *testing.T) {
	t.Parallel()

	v, err := ParseIntParamList("5, 9,,13")
	require.NoError(t, err)
	assert.Equal(t, []int{5, 9, 13}, v)

	v, err = ParseIntParamList("0:8:4")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 4, 8}, v)

	v, err = ParseIntParamList("")
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = ParseIntParamList("9:1:1")
	assert.ErrorContains(t, err, "empty")

	_, err = ParseIntParamList("1,x")
	assert.ErrorContains(t, err, "invalid int 'x'")
}

func TestParseBackendList(t *testing.T) {
	t.Parallel()

	got, err := ParseBackendList("scalar, OPENCL,cuda")
	require.NoError(t, err)
	assert.Equal(t, []stereo.BackendKind{stereo.BackendScalar, stereo.BackendGPU, stereo.BackendAccelerator}, got)

	all, err := ParseBackendList("all")
	require.NoError(t, err)
	assert.Equal(t, stereo.AllBackends(), all)

	_, err = ParseBackendList("scalar,fpga")
	assert.Error(t, err)
}
