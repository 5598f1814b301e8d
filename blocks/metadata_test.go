package blocks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMetadataCommonProperties(t *testing.T) {
	body := `<HDcomment><TX>engine run</TX><common_properties>` +
		`<e name="author" type="string">bench 3</e>` +
		`<e name="Recorder.Index" type="integer">2</e>` +
		`<e name="ratio" type="float">1.25</e>` +
		`</common_properties></HDcomment>`

	md := ParseMetadata(body)
	assert.Equal(t, "HDcomment", md.RootName)
	assert.Equal(t, "engine run", md.Comment)

	v, ok := md.GetStringProperty("author")
	require.True(t, ok)
	assert.Equal(t, "bench 3", v)

	f, err := md.GetFloatProperty("ratio")
	require.NoError(t, err)
	assert.Equal(t, 1.25, f)

	_, ok = md.GetStringProperty("missing")
	assert.False(t, ok)
	_, err = md.GetFloatProperty("author")
	assert.Error(t, err)
}

func TestMetadataSerializeParseRoundTrip(t *testing.T) {
	md := &Metadata{RootName: "HDcomment", Comment: "run 12"}
	md.SetStringProperty("author", "cell 4")
	md.SetFloatProperty("gain", 0.5)
	md.SetIntProperty("index", 7)
	md.SetBoolProperty("triggered", true)

	got := ParseMetadata(md.String())
	assert.Equal(t, "run 12", got.Comment)
	require.Len(t, got.Properties, 4)

	v, ok := got.GetStringProperty("author")
	require.True(t, ok)
	assert.Equal(t, "cell 4", v)

	g, err := got.GetFloatProperty("gain")
	require.NoError(t, err)
	assert.Equal(t, 0.5, g)

	idx, err := got.GetFloatProperty("index")
	require.NoError(t, err)
	assert.Equal(t, 7.0, idx)

	b, ok := got.GetStringProperty("triggered")
	require.True(t, ok)
	assert.Equal(t, "true", b)
}

func TestMetadataSetReplacesExisting(t *testing.T) {
	md := &Metadata{}
	md.SetStringProperty("k", "a")
	md.SetStringProperty("k", "b")
	require.Len(t, md.Properties, 1)

	v, _ := md.GetStringProperty("k")
	assert.Equal(t, "b", v)
}

func TestParseMetadataPlainText(t *testing.T) {
	md := ParseMetadata("just a comment, no XML")
	assert.Equal(t, "just a comment, no XML", md.Comment)
	assert.Empty(t, md.Properties)
}

func TestBuildHDCommentRoundTrip(t *testing.T) {
	hd := &FileHeader{Author: "a", Department: "d", Project: "p", Subject: "s", Comment: "c", RecorderIndex: 3}

	var got FileHeader
	applyHDComment(&got, ParseMetadata(BuildHDComment(hd)))
	assert.Equal(t, "a", got.Author)
	assert.Equal(t, "d", got.Department)
	assert.Equal(t, "p", got.Project)
	assert.Equal(t, "s", got.Subject)
	assert.Equal(t, "c", got.Comment)
	assert.Equal(t, uint16(3), got.RecorderIndex)

	assert.Equal(t, "", BuildHDComment(&FileHeader{}))
}
