// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package procgroup

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NVIDIA/sfbench/blunder"
	"github.com/NVIDIA/sfbench/conf"
)

// testBarrierRounds drives every member through rounds barriers, checking that
// no member leaves round N before every member has entered it.
func testBarrierRounds(t *testing.T, members []Group, rounds int) {
	var (
		entered []int32
		wg      sync.WaitGroup
	)

	entered = make([]int32, rounds)

	for _, member := range members {
		wg.Add(1)
		go func(member Group) {
			defer wg.Done()
			for round := 0; round < rounds; round++ {
				atomic.AddInt32(&entered[round], 1)
				err := member.Barrier()
				assert.Nil(t, err, "rank %d round %d", member.Rank(), round)
				assert.Equal(t, int32(len(members)), atomic.LoadInt32(&entered[round]), "rank %d left round %d early", member.Rank(), round)
			}
		}(member)
	}

	wg.Wait()
}

func TestLocalGroup(t *testing.T) {
	assert := assert.New(t)

	_, err := NewLocalGroup(0)
	assert.True(blunder.IsKind(err, blunder.ConfigurationError))

	for _, groupSize := range []int{1, 2, 7} {
		localMembers, err := NewLocalGroup(groupSize)
		require.Nil(t, err)
		require.Equal(t, groupSize, len(localMembers))

		members := make([]Group, groupSize)
		for rank, localMember := range localMembers {
			assert.Equal(rank, localMember.Rank())
			assert.Equal(groupSize, localMember.GroupSize())
			members[rank] = localMember
		}

		testBarrierRounds(t, members, 5)

		for _, member := range members {
			assert.Nil(member.Close())
			assert.NotNil(member.Barrier())
		}
	}
}

func TestLocalGroupAbort(t *testing.T) {
	assert := assert.New(t)

	localMembers, err := NewLocalGroup(3)
	require.Nil(t, err)

	errChan := make(chan error, 2)
	for _, localMember := range localMembers[:2] {
		go func(member *LocalMember) {
			errChan <- member.Barrier()
		}(localMember)
	}

	localMembers[2].Abort(blunder.NewError(blunder.IOError, "injected"))

	for i := 0; i < 2; i++ {
		err = <-errChan
		assert.True(blunder.Is(err, blunder.GroupAbortedError))
		assert.True(blunder.IsKind(err, blunder.CollectiveIOError))
		assert.Contains(err.Error(), "injected")
	}

	err = localMembers[2].Barrier()
	assert.True(blunder.Is(err, blunder.GroupAbortedError))
}

func TestWallClockSeconds(t *testing.T) {
	assert := assert.New(t)

	localMembers, err := NewLocalGroup(1)
	require.Nil(t, err)

	first := localMembers[0].WallClockSeconds()
	time.Sleep(10 * time.Millisecond)
	second := localMembers[0].WallClockSeconds()

	assert.True(0 <= first)
	assert.True(second-first >= 0.01)
}

func TestFetchConfig(t *testing.T) {
	assert := assert.New(t)

	confMap, err := conf.MakeConfMapFromStrings([]string{
		"EtcdGroup.Endpoints=127.0.0.1:2379,127.0.0.2:2379",
		"EtcdGroup.RunID=run-1",
		"EtcdGroup.Rank=2",
		"EtcdGroup.GroupSize=4",
		"NATSGroup.URL=nats://127.0.0.1:4222",
		"NATSGroup.RunID=run-1",
		"NATSGroup.Rank=0",
		"NATSGroup.GroupSize=1",
		"NATSGroup.JoinTimeout=5s",
	})
	require.Nil(t, err)

	etcdConfig, err := FetchEtcdConfig(confMap)
	assert.Nil(err)
	assert.Equal([]string{"127.0.0.1:2379", "127.0.0.2:2379"}, etcdConfig.Endpoints)
	assert.Equal(defaultEtcdDialTimeout, etcdConfig.DialTimeout)
	assert.Equal(defaultEtcdKeyPrefix, etcdConfig.KeyPrefix)
	assert.Equal(defaultEtcdKeyTTL, etcdConfig.KeyTTL)
	assert.Equal(2, etcdConfig.Rank)
	assert.Equal(4, etcdConfig.GroupSize)

	natsConfig, err := FetchNATSConfig(confMap)
	assert.Nil(err)
	assert.Equal(defaultNATSSubjectPrefix, natsConfig.SubjectPrefix)
	assert.Equal(5*time.Second, natsConfig.JoinTimeout)

	confMap.SetOptionValues("EtcdGroup", "Rank", "4")
	_, err = FetchEtcdConfig(confMap)
	assert.True(blunder.IsKind(err, blunder.ConfigurationError))

	confMap.SetOptionValues("NATSGroup", "RunID", "has.dot")
	_, err = FetchNATSConfig(confMap)
	assert.True(blunder.IsKind(err, blunder.ConfigurationError))

	confMap.SetOptionValues("NATSGroup", "RunID", "run-1")
	confMap.SetOptionValues("NATSGroup", "GroupSize", "0")
	_, err = FetchNATSConfig(confMap)
	assert.True(blunder.IsKind(err, blunder.ConfigurationError))

	confMap.SetOptionValues("NATSGroup", "GroupSize", "1")
	confMap.SetOptionValues("NATSGroup", "JoinTimeout", "soon")
	_, err = FetchNATSConfig(confMap)
	assert.True(blunder.IsKind(err, blunder.ConfigurationError), "malformed JoinTimeout is not replaced by its default")

	confMap.SetOptionValues("NATSGroup", "JoinTimeout", "5s")
	confMap.SetOptionValues("NATSGroup", "SubjectPrefix", "a", "b")
	_, err = FetchNATSConfig(confMap)
	assert.True(blunder.IsKind(err, blunder.ConfigurationError))

	confMap.SetOptionValues("EtcdGroup", "Rank", "2")
	for _, malformed := range [][]string{
		{"DialTimeout", "-5s"},
		{"DialTimeout", "five"},
		{"KeyTTL", "forever"},
		{"KeyTTL", "500ms"},
	} {
		etcdConfMap := conf.MakeConfMap()
		for optionName, optionValues := range confMap["EtcdGroup"] {
			etcdConfMap.SetOptionValues("EtcdGroup", optionName, optionValues...)
		}
		etcdConfMap.SetOptionValues("EtcdGroup", malformed[0], malformed[1])
		_, err = FetchEtcdConfig(etcdConfMap)
		assert.True(blunder.IsKind(err, blunder.ConfigurationError), "[EtcdGroup]%s=%s", malformed[0], malformed[1])
	}

	_, err = FetchEtcdConfig(conf.MakeConfMap())
	assert.True(blunder.IsKind(err, blunder.ConfigurationError))

	_, err = Join(confMap, GroupTypeLocal)
	assert.True(blunder.IsKind(err, blunder.ConfigurationError))
}

// testJoinAll joins groupSize members of groupType concurrently
func testJoinAll(t *testing.T, groupType string, confStrings func(runID string, rank int) []string, groupSize int) (members []Group) {
	var wg sync.WaitGroup

	runID := uuid.New().String()
	members = make([]Group, groupSize)
	errs := make([]error, groupSize)

	for rank := 0; rank < groupSize; rank++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			confMap, err := conf.MakeConfMapFromStrings(confStrings(runID, rank))
			if nil != err {
				errs[rank] = err
				return
			}
			members[rank], errs[rank] = Join(confMap, groupType)
		}(rank)
	}
	wg.Wait()

	for rank, err := range errs {
		require.Nil(t, err, "rank %d", rank)
	}
	return
}

func TestEtcdGroup(t *testing.T) {
	endpoints := os.Getenv("SFBENCH_ETCD_ENDPOINTS")
	if "" == endpoints {
		t.Skip("SFBENCH_ETCD_ENDPOINTS not set")
	}

	groupSize := 3
	confStrings := func(runID string, rank int) []string {
		return []string{
			"EtcdGroup.Endpoints=" + endpoints,
			"EtcdGroup.RunID=" + runID,
			fmt.Sprintf("EtcdGroup.Rank=%d", rank),
			fmt.Sprintf("EtcdGroup.GroupSize=%d", groupSize),
			"EtcdGroup.KeyTTL=60s",
		}
	}

	members := testJoinAll(t, GroupTypeEtcd, confStrings, groupSize)
	testBarrierRounds(t, members, 3)
	testGroupAbort(t, members)

	for _, member := range members {
		assert.Nil(t, member.Close())
	}
}

func TestNATSGroup(t *testing.T) {
	url := os.Getenv("SFBENCH_NATS_URL")
	if "" == url {
		t.Skip("SFBENCH_NATS_URL not set")
	}

	groupSize := 3
	confStrings := func(runID string, rank int) []string {
		return []string{
			"NATSGroup.URL=" + url,
			"NATSGroup.RunID=" + strings.Replace(runID, "-", "", -1),
			fmt.Sprintf("NATSGroup.Rank=%d", rank),
			fmt.Sprintf("NATSGroup.GroupSize=%d", groupSize),
			"NATSGroup.JoinTimeout=10s",
		}
	}

	members := testJoinAll(t, GroupTypeNATS, confStrings, groupSize)
	testBarrierRounds(t, members, 3)
	testGroupAbort(t, members)

	for _, member := range members {
		assert.Nil(t, member.Close())
	}
}

func testGroupAbort(t *testing.T, members []Group) {
	errChan := make(chan error, len(members)-1)
	for _, member := range members[1:] {
		go func(member Group) {
			errChan <- member.Barrier()
		}(member)
	}

	members[0].Abort(blunder.NewError(blunder.IOError, "injected"))

	for range members[1:] {
		err := <-errChan
		assert.True(t, blunder.Is(err, blunder.GroupAbortedError), "%v", err)
	}
}
