package zip

import (
	"archive/zip"
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func readArchive(t *testing.T, data []byte) map[string][]byte {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	out := make(map[string][]byte)
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		content, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		out[f.Name] = content
	}
	return out
}

func TestArchiveWithoutManifest(t *testing.T) {
	data, err := Archive([]Asset{
		{Filename: "row-01.png", Data: []byte("png-bytes")},
		{Filename: "row-02.png", Data: []byte("more-bytes")},
	}, nil)
	require.NoError(t, err)

	files := readArchive(t, data)
	require.Len(t, files, 2)
	require.Equal(t, []byte("png-bytes"), files["row-01.png"])
	require.NotContains(t, files, ManifestFilename)
}

func TestArchiveAppendsManifest(t *testing.T) {
	data, err := Archive(
		[]Asset{{Filename: "row-01.png", Data: []byte("ok")}},
		[]ManifestEntry{
			{RowIndex: 2, Reason: "provider timeout"},
			{RowIndex: 4, Reason: "malformed response"},
		},
	)
	require.NoError(t, err)

	files := readArchive(t, data)
	require.Contains(t, files, ManifestFilename)
	manifest := string(files[ManifestFilename])
	require.Contains(t, manifest, "row 2: provider timeout")
	require.Contains(t, manifest, "row 4: malformed response")
}
