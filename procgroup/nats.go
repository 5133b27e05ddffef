// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package procgroup

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/NVIDIA/sfbench/blunder"
	"github.com/NVIDIA/sfbench/logger"
)

const (
	natsJoinRequestTimeout = time.Second
	natsJoinRetryDelay     = 100 * time.Millisecond
)

// NATSMember is one process's handle on a process group coordinated through
// a NATS server. Subjects of a run live under <SubjectPrefix>.<RunID>:
//
//   .join           - request/reply from rank N>0 to rank 0; replies are held
//                     until every rank has subscribed to the run's subjects
//   .barrier.<gen>  - arrival (payload: rank) at barrier generation gen
//   .abort          - cause of a group-wide abort
type NATSMember struct {
	sync.Mutex
	cond         *sync.Cond
	config       NATSConfig
	nc           *nats.Conn
	clock        clockStruct
	generation   uint64
	arrivals     map[uint64]map[int]struct{}
	aborted      bool
	abortCause   string
	closed       bool
	joinRequests map[int]*nats.Msg // rank 0 only
	joinComplete bool              // rank 0 only
	joinDoneChan chan struct{}     // rank 0 only
	rankLogger   *logger.RankLogger
}

// NewNATSGroup connects to config.URL and joins the group config.RunID. It
// returns once every member has joined or JoinTimeout expires.
func NewNATSGroup(config NATSConfig) (member *NATSMember, err error) {
	err = checkIdentity(config.Rank, config.GroupSize)
	if nil != err {
		return
	}

	member = &NATSMember{
		config:     config,
		clock:      newClock(),
		arrivals:   make(map[uint64]map[int]struct{}),
		rankLogger: logger.WithRank(config.Rank),
	}
	member.cond = sync.NewCond(&member.Mutex)

	opts := []nats.Option{
		nats.Name(fmt.Sprintf("sfbench-%s-%d", config.RunID, config.Rank)),
		nats.MaxReconnects(-1), // retry forever
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			member.rankLogger.WarnfWithError(err, "NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			member.rankLogger.Infof("NATS reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			member.Lock()
			member.closed = true
			member.cond.Broadcast()
			member.Unlock()
		}),
	}

	member.nc, err = nats.Connect(config.URL, opts...)
	if nil != err {
		member = nil
		err = blunder.NewKindError(blunder.ConfigurationError, blunder.IOError, "nats.Connect(%s) failed: %v", config.URL, err)
		return
	}

	_, err = member.nc.Subscribe(member.subject("barrier.*"), member.handleArrival)
	if nil == err {
		_, err = member.nc.Subscribe(member.subject("abort"), member.handleAbort)
	}
	if (nil == err) && (CoordinatorRank == config.Rank) {
		member.joinRequests = make(map[int]*nats.Msg)
		member.joinDoneChan = make(chan struct{})
		if 1 == config.GroupSize {
			member.joinComplete = true
			close(member.joinDoneChan)
		}
		_, err = member.nc.Subscribe(member.subject("join"), member.handleJoin)
	}
	if nil == err {
		err = member.nc.Flush()
	}
	if nil != err {
		member.nc.Close()
		member = nil
		err = blunder.NewKindError(blunder.CollectiveIOError, blunder.IOError, "NATS subscribe failed: %v", err)
		return
	}

	if CoordinatorRank == config.Rank {
		err = member.awaitJoins()
	} else {
		err = member.requestJoin()
	}
	if nil != err {
		member.nc.Close()
		member = nil
		return
	}

	member.rankLogger.Infof("joined NATS process group %s (%d members) via %s", config.RunID, config.GroupSize, config.URL)

	err = nil
	return
}

func (member *NATSMember) subject(suffix string) string {
	return member.config.SubjectPrefix + "." + member.config.RunID + "." + suffix
}

func (member *NATSMember) handleJoin(msg *nats.Msg) {
	rank, err := strconv.Atoi(string(msg.Data))
	if (nil != err) || (0 >= rank) || (rank >= member.config.GroupSize) {
		member.rankLogger.Warnf("ignoring join request %q", string(msg.Data))
		return
	}

	member.Lock()
	defer member.Unlock()

	if member.joinComplete {
		err = msg.Respond([]byte("ok"))
		if nil != err {
			member.rankLogger.WarnfWithError(err, "late join reply to rank %d failed", rank)
		}
		return
	}

	member.joinRequests[rank] = msg
	if len(member.joinRequests) < member.config.GroupSize-1 {
		return
	}

	member.joinComplete = true
	for joinedRank, joinMsg := range member.joinRequests {
		err = joinMsg.Respond([]byte("ok"))
		if nil != err {
			member.rankLogger.WarnfWithError(err, "join reply to rank %d failed", joinedRank)
		}
	}
	close(member.joinDoneChan)
}

func (member *NATSMember) awaitJoins() (err error) {
	select {
	case <-member.joinDoneChan:
		err = nil
	case <-time.After(member.config.JoinTimeout):
		member.Lock()
		joined := len(member.joinRequests) + 1
		member.Unlock()
		err = blunder.NewKindError(blunder.CollectiveIOError, blunder.TimedOut, "only %d of %d ranks joined %s within %v", joined, member.config.GroupSize, member.config.RunID, member.config.JoinTimeout)
	}
	return
}

// requestJoin retries until rank 0 replies; a reply means every rank has
// subscribed to the run's barrier and abort subjects.
func (member *NATSMember) requestJoin() (err error) {
	deadline := time.Now().Add(member.config.JoinTimeout)
	rankAsString := strconv.Itoa(member.config.Rank)

	for time.Now().Before(deadline) {
		_, err = member.nc.Request(member.subject("join"), []byte(rankAsString), natsJoinRequestTimeout)
		if nil == err {
			return
		}
		if (nats.ErrTimeout != err) && (nats.ErrNoResponders != err) {
			err = blunder.NewKindError(blunder.CollectiveIOError, blunder.IOError, "rank %d join request failed: %v", member.config.Rank, err)
			return
		}
		time.Sleep(natsJoinRetryDelay)
	}

	err = blunder.NewKindError(blunder.CollectiveIOError, blunder.TimedOut, "rank %d did not join %s within %v", member.config.Rank, member.config.RunID, member.config.JoinTimeout)
	return
}

func (member *NATSMember) handleArrival(msg *nats.Msg) {
	generation, err := strconv.ParseUint(msg.Subject[strings.LastIndex(msg.Subject, ".")+1:], 10, 64)
	if nil != err {
		member.rankLogger.Warnf("ignoring arrival on %s", msg.Subject)
		return
	}
	rank, err := strconv.Atoi(string(msg.Data))
	if (nil != err) || (0 > rank) || (rank >= member.config.GroupSize) {
		member.rankLogger.Warnf("ignoring arrival %q on %s", string(msg.Data), msg.Subject)
		return
	}

	member.Lock()
	arrived, ok := member.arrivals[generation]
	if !ok {
		arrived = make(map[int]struct{})
		member.arrivals[generation] = arrived
	}
	arrived[rank] = struct{}{}
	member.cond.Broadcast()
	member.Unlock()
}

func (member *NATSMember) handleAbort(msg *nats.Msg) {
	member.Lock()
	if !member.aborted {
		member.aborted = true
		member.abortCause = string(msg.Data)
	}
	member.cond.Broadcast()
	member.Unlock()
}

func (member *NATSMember) Rank() int {
	return member.config.Rank
}

func (member *NATSMember) GroupSize() int {
	return member.config.GroupSize
}

func (member *NATSMember) WallClockSeconds() float64 {
	return member.clock.wallClockSeconds()
}

func (member *NATSMember) Barrier() (err error) {
	member.Lock()
	if member.closed {
		member.Unlock()
		err = closedError(member.config.Rank)
		return
	}
	if member.aborted {
		member.Unlock()
		err = abortedError(member.config.Rank, member.abortCause)
		return
	}
	generation := member.generation
	member.generation++
	member.Unlock()

	err = member.nc.Publish(member.subject(fmt.Sprintf("barrier.%d", generation)), []byte(strconv.Itoa(member.config.Rank)))
	if nil == err {
		err = member.nc.Flush()
	}
	if nil != err {
		err = blunder.NewKindError(blunder.CollectiveIOError, blunder.IOError, "rank %d barrier arrival failed: %v", member.config.Rank, err)
		return
	}

	member.Lock()
	defer member.Unlock()

	for (len(member.arrivals[generation]) < member.config.GroupSize) && !member.aborted && !member.closed {
		member.cond.Wait()
	}

	if len(member.arrivals[generation]) >= member.config.GroupSize {
		delete(member.arrivals, generation)
		err = nil
		return
	}
	if member.aborted {
		err = abortedError(member.config.Rank, member.abortCause)
		return
	}

	err = closedError(member.config.Rank)
	return
}

func (member *NATSMember) Abort(cause error) {
	member.rankLogger.ErrorfWithError(cause, "aborting NATS process group %s", member.config.RunID)

	causeString := blunder.ErrorString(cause)

	err := member.nc.Publish(member.subject("abort"), []byte(causeString))
	if nil == err {
		err = member.nc.Flush()
	}
	if nil != err {
		member.rankLogger.WarnfWithError(err, "failed to publish abort of %s", member.config.RunID)
	}

	member.Lock()
	if !member.aborted {
		member.aborted = true
		member.abortCause = causeString
	}
	member.cond.Broadcast()
	member.Unlock()
}

func (member *NATSMember) Close() (err error) {
	member.nc.Close()
	err = nil
	return
}
