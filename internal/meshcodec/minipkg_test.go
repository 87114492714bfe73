package meshcodec_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/plejdctl/internal/meshcodec"
)

func TestMiniPkg_RoundTripsSimpleType(t *testing.T) {
	pkg := meshcodec.MiniPkg{Type: meshcodec.TypeChannel, Payload: []byte{0x03}}
	encoded := pkg.Encode()
	require.Len(t, encoded, pkg.Len())

	decoded, err := meshcodec.DecodeMiniPkgs(encoded)
	require.NoError(t, err)
	require.Len(t, decoded, 1)
	assert.Equal(t, pkg.Type, decoded[0].Type)
	assert.Equal(t, pkg.Payload, decoded[0].Payload)
}

func TestMiniPkg_RoundTripsExtendedType(t *testing.T) {
	pkg := meshcodec.MiniPkg{Flag: true, Type: 0x27, Payload: []byte{0x10, 0x20}}
	encoded := pkg.Encode()
	decoded, err := meshcodec.DecodeMiniPkgs(encoded)
	require.NoError(t, err)
	require.Len(t, decoded, 1)
	assert.True(t, decoded[0].Flag)
	assert.Equal(t, 0x27, decoded[0].Type)
	assert.Equal(t, []byte{0x10, 0x20}, decoded[0].Payload)
}

func TestMiniPkg_RoundTripsListOfVaryingLengths(t *testing.T) {
	for n := 1; n <= 8; n++ {
		payload := make([]byte, n)
		for i := range payload {
			payload[i] = byte(i + 1)
		}
		pkg := meshcodec.MiniPkg{Type: meshcodec.TypeBatteryInfo, Payload: payload}
		decoded, err := meshcodec.DecodeMiniPkgs(pkg.Encode())
		require.NoError(t, err)
		require.Len(t, decoded, 1)
		assert.Equal(t, payload, decoded[0].Payload)
	}
}

func TestDecodeMiniPkgs_ConcatenatedList(t *testing.T) {
	pkgs := []meshcodec.MiniPkg{
		{Type: meshcodec.TypeSource, Payload: []byte{meshcodec.SourceMotion}},
		{Type: meshcodec.TypeLux, Payload: []byte{0x00, 0x20}},
		{Type: meshcodec.TypeWindowControl, Payload: []byte{0x01}},
	}
	encoded := meshcodec.EncodeMiniPkgs(pkgs)
	decoded, err := meshcodec.DecodeMiniPkgs(encoded)
	require.NoError(t, err)
	require.Len(t, decoded, 3)
	for i, p := range pkgs {
		assert.Equal(t, p.Type, decoded[i].Type)
		assert.Equal(t, p.Payload, decoded[i].Payload)
	}
}

func TestDecodeMiniPkgs_TruncatedPayloadErrors(t *testing.T) {
	_, err := meshcodec.DecodeMiniPkgs([]byte{0x16}) // claims 2-byte payload, has none
	assert.Error(t, err)
}
