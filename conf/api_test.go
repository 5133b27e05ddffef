// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package conf

import (
	"io/ioutil"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NVIDIA/sfbench/blunder"
)

func testWriteFile(t *testing.T, dirPath string, fileName string, contents string) (filePath string) {
	filePath = filepath.Join(dirPath, fileName)
	err := ioutil.WriteFile(filePath, []byte(contents), 0644)
	require.Nil(t, err, "ioutil.WriteFile(%v) failed", filePath)
	return
}

func TestUpdateFromString(t *testing.T) {
	assert := assert.New(t)

	confMap := MakeConfMap()

	err := confMap.UpdateFromString("SFBench.MegabytesPerWorker=16")
	assert.Nil(err)
	err = confMap.UpdateFromString("EtcdGroup.Endpoints : 10.0.0.1:2379, 10.0.0.2:2379")
	assert.Nil(err)
	err = confMap.UpdateFromString("Halter.ArmedTriggers=")
	assert.Nil(err)

	megabytesPerWorker, err := confMap.FetchOptionValueUint32("SFBench", "MegabytesPerWorker")
	assert.Nil(err)
	assert.Equal(uint32(16), megabytesPerWorker)

	endpoints, err := confMap.FetchOptionValueStringSlice("EtcdGroup", "Endpoints")
	assert.Nil(err)
	assert.Equal([]string{"10.0.0.1:2379", "10.0.0.2:2379"}, endpoints)

	_, err = confMap.FetchOptionValueString("EtcdGroup", "Endpoints")
	assert.NotNil(err, "multi-valued option must not fetch as a single string")

	armedTriggers, err := confMap.FetchOptionValueStringSlice("Halter", "ArmedTriggers")
	assert.Nil(err)
	assert.Equal(0, len(armedTriggers))

	assert.NotNil(confMap.UpdateFromString("   "))
	assert.NotNil(confMap.UpdateFromString("NoOptionHere"))
	assert.NotNil(confMap.UpdateFromString("SFBench.Bad Option=1"))

	_, err = MakeConfMapFromStrings([]string{"SFBench.GroupType=local", "garbage"})
	assert.True(blunder.IsKind(err, blunder.ConfigurationError))
}

func TestFetchTyped(t *testing.T) {
	assert := assert.New(t)

	confMap, err := MakeConfMapFromStrings([]string{
		"T.Bool=yes",
		"T.NotBool=maybe",
		"T.U32=4000000000",
		"T.U32TooBig=4294967296",
		"T.U32Negative=-1",
		"T.Duration=1500ms",
		"T.NegativeDuration=-1s",
	})
	require.Nil(t, err)

	b, err := confMap.FetchOptionValueBool("T", "Bool")
	assert.Nil(err)
	assert.True(b)
	_, err = confMap.FetchOptionValueBool("T", "NotBool")
	assert.NotNil(err)

	u32, err := confMap.FetchOptionValueUint32("T", "U32")
	assert.Nil(err)
	assert.Equal(uint32(4000000000), u32)
	_, err = confMap.FetchOptionValueUint32("T", "U32TooBig")
	assert.True(blunder.Is(err, blunder.InvalidArgError))
	_, err = confMap.FetchOptionValueUint32("T", "U32Negative")
	assert.True(blunder.IsKind(err, blunder.ConfigurationError))

	d, err := confMap.FetchOptionValueDuration("T", "Duration")
	assert.Nil(err)
	assert.Equal(1500*time.Millisecond, d)
	_, err = confMap.FetchOptionValueDuration("T", "NegativeDuration")
	assert.NotNil(err)

	_, err = confMap.FetchOptionValueString("Missing", "Option")
	assert.EqualError(err, "[Missing]Option missing")
	assert.True(blunder.Is(err, blunder.NotFoundError))
	_, err = confMap.FetchOptionValueString("T", "Missing")
	assert.EqualError(err, "[T]Missing missing")
	assert.True(blunder.IsKind(err, blunder.ConfigurationError))
}

func TestSetOptionValues(t *testing.T) {
	assert := assert.New(t)

	confMap := MakeConfMap()
	confMap.SetOptionValues("SFBench", "RankFilePath", "/tmp/dir with spaces/rank file")

	rankFilePath, err := confMap.FetchOptionValueString("SFBench", "RankFilePath")
	assert.Nil(err)
	assert.Equal("/tmp/dir with spaces/rank file", rankFilePath)
}

func TestUpdateFromINIFile(t *testing.T) {
	assert := assert.New(t)

	dirPath := t.TempDir()

	testWriteFile(t, dirPath, "included.conf", "[Logging]\nLogToConsole : false\n")

	confFilePath := testWriteFile(t, dirPath, "sfbench.conf",
		"# A comment on it's own line\n"+
			"[SFBench]                     ; A comment at the end of a line\n"+
			"ScratchFilePath : /tmp/temp   # Another comment\n"+
			"GroupType       = local\n"+
			"\n"+
			".include included.conf\n"+
			"\n"+
			"[EtcdGroup]\n"+
			"Endpoints : 10.0.0.1:2379 10.0.0.2:2379\n")

	confMap, err := MakeConfMapFromFile(confFilePath)
	assert.Nil(err)

	scratchFilePath, err := confMap.FetchOptionValueString("SFBench", "ScratchFilePath")
	assert.Nil(err)
	assert.Equal("/tmp/temp", scratchFilePath)

	logToConsole, err := confMap.FetchOptionValueBool("Logging", "LogToConsole")
	assert.Nil(err)
	assert.False(logToConsole)

	endpoints, err := confMap.FetchOptionValueStringSlice("EtcdGroup", "Endpoints")
	assert.Nil(err)
	assert.Equal([]string{"10.0.0.1:2379", "10.0.0.2:2379"}, endpoints)

	badFilePath := testWriteFile(t, dirPath, "noSection.conf", "Option : Value\n")
	_, err = MakeConfMapFromFile(badFilePath)
	assert.NotNil(err)

	badFilePath = testWriteFile(t, dirPath, "noNewline.conf", "[Section]\nOption : Value")
	_, err = MakeConfMapFromFile(badFilePath)
	assert.NotNil(err)

	badFilePath = testWriteFile(t, dirPath, "malformed.conf", "[Section]\nOption Value !!\n")
	_, err = MakeConfMapFromFile(badFilePath)
	assert.NotNil(err)

	_, err = MakeConfMapFromFile(filepath.Join(dirPath, "doesNotExist.conf"))
	assert.True(blunder.IsKind(err, blunder.ConfigurationError))
}

func TestUpdateFromTOMLFile(t *testing.T) {
	assert := assert.New(t)

	dirPath := t.TempDir()

	confFilePath := testWriteFile(t, dirPath, "sfbench.toml",
		"[SFBench]\n"+
			"ScratchFilePath = \"/mnt/shared/temp\"\n"+
			"MegabytesPerWorker = 64\n"+
			"DirectIO = true\n"+
			"\n"+
			"[EtcdGroup]\n"+
			"Endpoints = [\"10.0.0.1:2379\", \"10.0.0.2:2379\"]\n"+
			"DialTimeout = \"5s\"\n")

	confMap, err := MakeConfMapFromFile(confFilePath)
	assert.Nil(err)

	scratchFilePath, err := confMap.FetchOptionValueString("SFBench", "ScratchFilePath")
	assert.Nil(err)
	assert.Equal("/mnt/shared/temp", scratchFilePath)

	megabytesPerWorker, err := confMap.FetchOptionValueUint32("SFBench", "MegabytesPerWorker")
	assert.Nil(err)
	assert.Equal(uint32(64), megabytesPerWorker)

	directIO, err := confMap.FetchOptionValueBool("SFBench", "DirectIO")
	assert.Nil(err)
	assert.True(directIO)

	endpoints, err := confMap.FetchOptionValueStringSlice("EtcdGroup", "Endpoints")
	assert.Nil(err)
	assert.Equal([]string{"10.0.0.1:2379", "10.0.0.2:2379"}, endpoints)

	dialTimeout, err := confMap.FetchOptionValueDuration("EtcdGroup", "DialTimeout")
	assert.Nil(err)
	assert.Equal(5*time.Second, dialTimeout)

	err = confMap.UpdateFromString("SFBench.DirectIO=false")
	assert.Nil(err)
	directIO, err = confMap.FetchOptionValueBool("SFBench", "DirectIO")
	assert.Nil(err)
	assert.False(directIO)

	badFilePath := testWriteFile(t, dirPath, "topLevel.toml", "Orphan = 1\n")
	_, err = MakeConfMapFromFile(badFilePath)
	assert.NotNil(err)

	badFilePath = testWriteFile(t, dirPath, "nested.toml", "[A]\n[A.B]\nC = 1\n")
	_, err = MakeConfMapFromFile(badFilePath)
	assert.NotNil(err)

	badFilePath = testWriteFile(t, dirPath, "syntax.toml", "[A\n")
	_, err = MakeConfMapFromFile(badFilePath)
	assert.NotNil(err)
}
