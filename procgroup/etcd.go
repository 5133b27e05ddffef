// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package procgroup

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"go.etcd.io/etcd/clientv3"

	"github.com/NVIDIA/sfbench/blunder"
	"github.com/NVIDIA/sfbench/logger"
)

// EtcdMember is one process's handle on a process group coordinated through
// etcd. All keys of a run live under <KeyPrefix>/<RunID>/ and are attached to
// a lease of KeyTTL so that abandoned runs expire:
//
//   .../member/<rank>           - rank registration (must not already exist)
//   .../barrier/<gen>/<rank>    - arrival of rank at barrier generation gen
//   .../abort                   - cause of a group-wide abort
type EtcdMember struct {
	sync.Mutex
	config     EtcdConfig
	cli        *clientv3.Client
	leaseID    clientv3.LeaseID
	ctx        context.Context
	cancel     context.CancelFunc
	clock      clockStruct
	generation uint64
	closed     bool
	rankLogger *logger.RankLogger
}

// NewEtcdGroup registers config.Rank in the group config.RunID
func NewEtcdGroup(config EtcdConfig) (member *EtcdMember, err error) {
	var (
		cli       *clientv3.Client
		grantResp *clientv3.LeaseGrantResponse
		hostName  string
		txnResp   *clientv3.TxnResponse
	)

	err = checkIdentity(config.Rank, config.GroupSize)
	if nil != err {
		return
	}

	cli, err = clientv3.New(clientv3.Config{Endpoints: config.Endpoints, DialTimeout: config.DialTimeout})
	if nil != err {
		err = blunder.NewKindError(blunder.ConfigurationError, blunder.IOError, "clientv3.New(%v) failed: %v", config.Endpoints, err)
		return
	}

	member = &EtcdMember{
		config:     config,
		cli:        cli,
		clock:      newClock(),
		rankLogger: logger.WithRank(config.Rank),
	}
	member.ctx, member.cancel = context.WithCancel(context.Background())

	ctx, cancel := context.WithTimeout(member.ctx, config.DialTimeout)
	defer cancel()

	grantResp, err = cli.Grant(ctx, int64(config.KeyTTL.Seconds()))
	if nil != err {
		_ = member.closeClient()
		member = nil
		err = blunder.NewKindError(blunder.CollectiveIOError, blunder.IOError, "etcd lease grant failed: %v", err)
		return
	}
	member.leaseID = grantResp.ID

	hostName, _ = os.Hostname()
	memberKey := member.memberKey()

	txnResp, err = cli.Txn(ctx).If(
		clientv3.Compare(clientv3.CreateRevision(memberKey), "=", 0),
	).Then(
		clientv3.OpPut(memberKey, fmt.Sprintf("%s:%d", hostName, os.Getpid()), clientv3.WithLease(member.leaseID)),
	).Commit()
	if nil != err {
		_ = member.closeClient()
		member = nil
		err = blunder.NewKindError(blunder.CollectiveIOError, blunder.IOError, "etcd rank registration failed: %v", err)
		return
	}
	if !txnResp.Succeeded {
		_ = member.closeClient()
		member = nil
		err = blunder.NewKindError(blunder.ConfigurationError, blunder.InvalidArgError, "rank %d of run %s already registered", config.Rank, config.RunID)
		return
	}

	member.rankLogger.Infof("joined etcd process group %s (%d members) via %v", config.RunID, config.GroupSize, config.Endpoints)

	err = nil
	return
}

func (member *EtcdMember) runPrefix() string {
	return strings.TrimSuffix(member.config.KeyPrefix, "/") + "/" + member.config.RunID + "/"
}

func (member *EtcdMember) memberKey() string {
	return fmt.Sprintf("%smember/%d", member.runPrefix(), member.config.Rank)
}

func (member *EtcdMember) barrierPrefix(generation uint64) string {
	return fmt.Sprintf("%sbarrier/%d/", member.runPrefix(), generation)
}

func (member *EtcdMember) abortKey() string {
	return member.runPrefix() + "abort"
}

func (member *EtcdMember) Rank() int {
	return member.config.Rank
}

func (member *EtcdMember) GroupSize() int {
	return member.config.GroupSize
}

func (member *EtcdMember) WallClockSeconds() float64 {
	return member.clock.wallClockSeconds()
}

// Barrier records this member's arrival at the next generation and waits,
// via a watch on the run's keys, until GroupSize arrivals are visible or the
// abort key appears.
func (member *EtcdMember) Barrier() (err error) {
	var (
		arrived  int64
		getResp  *clientv3.TxnResponse
		ok       bool
		watchCtx context.Context
	)

	member.Lock()
	if member.closed {
		member.Unlock()
		err = closedError(member.config.Rank)
		return
	}
	generation := member.generation
	member.generation++
	member.Unlock()

	barrierPrefix := member.barrierPrefix(generation)
	abortKey := member.abortKey()

	_, err = member.cli.Put(member.ctx, fmt.Sprintf("%s%d", barrierPrefix, member.config.Rank), "", clientv3.WithLease(member.leaseID))
	if nil != err {
		err = member.etcdError("barrier arrival", err)
		return
	}

	getResp, err = member.cli.Txn(member.ctx).Then(
		clientv3.OpGet(barrierPrefix, clientv3.WithPrefix(), clientv3.WithCountOnly()),
		clientv3.OpGet(abortKey),
	).Commit()
	if nil != err {
		err = member.etcdError("barrier count", err)
		return
	}

	abortKvs := getResp.Responses[1].GetResponseRange().Kvs
	if 0 < len(abortKvs) {
		err = abortedError(member.config.Rank, string(abortKvs[0].Value))
		return
	}

	arrived = getResp.Responses[0].GetResponseRange().Count
	if arrived >= int64(member.config.GroupSize) {
		err = nil
		return
	}

	watchCtx, watchCancel := context.WithCancel(member.ctx)
	defer watchCancel()

	watchChan := member.cli.Watch(watchCtx, member.runPrefix(), clientv3.WithPrefix(), clientv3.WithRev(getResp.Header.Revision+1))

	for {
		var watchResp clientv3.WatchResponse

		watchResp, ok = <-watchChan
		if !ok {
			err = member.etcdError("barrier watch", member.ctx.Err())
			return
		}
		err = watchResp.Err()
		if nil != err {
			err = member.etcdError("barrier watch", err)
			return
		}

		for _, ev := range watchResp.Events {
			key := string(ev.Kv.Key)
			switch {
			case (key == abortKey) && (clientv3.EventTypePut == ev.Type):
				err = abortedError(member.config.Rank, string(ev.Kv.Value))
				return
			case strings.HasPrefix(key, barrierPrefix) && ev.IsCreate():
				arrived++
			}
		}

		if arrived >= int64(member.config.GroupSize) {
			err = nil
			return
		}
	}
}

func (member *EtcdMember) etcdError(what string, err error) error {
	return blunder.NewKindError(blunder.CollectiveIOError, blunder.IOError, "rank %d etcd %s failed: %v", member.config.Rank, what, err)
}

// Abort publishes cause under the run's abort key, releasing every member
// waiting in Barrier(), then cancels this member's outstanding requests.
func (member *EtcdMember) Abort(cause error) {
	member.rankLogger.ErrorfWithError(cause, "aborting etcd process group %s", member.config.RunID)

	ctx, cancel := context.WithTimeout(context.Background(), member.config.DialTimeout)
	_, err := member.cli.Txn(ctx).If(
		clientv3.Compare(clientv3.CreateRevision(member.abortKey()), "=", 0),
	).Then(
		clientv3.OpPut(member.abortKey(), blunder.ErrorString(cause), clientv3.WithLease(member.leaseID)),
	).Commit()
	cancel() // NOTE: Difficult memory leak if you do not do this!
	if nil != err {
		member.rankLogger.WarnfWithError(err, "failed to publish abort of %s", member.config.RunID)
	}

	member.cancel()
}

func (member *EtcdMember) closeClient() (err error) {
	member.cancel()
	err = member.cli.Close()
	return
}

func (member *EtcdMember) Close() (err error) {
	member.Lock()
	if member.closed {
		member.Unlock()
		err = nil
		return
	}
	member.closed = true
	member.Unlock()

	err = member.closeClient()
	if nil != err {
		err = blunder.AddKind(err, blunder.CollectiveIOError)
	}
	return
}
