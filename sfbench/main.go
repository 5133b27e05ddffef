// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Program sfbench provides a command-line wrapper around package sfbenchpkg APIs.
//
// The program requires three arguments: the path of the rank identity file,
// the number of megabytes each rank transfers, and the path of the results
// file. Optionally, a config file may be supplied via --conf and overrides
// of it may be passed as additional arguments in the form
// <section_name>.<option_name>=<value>.
//
// Exit status is 0 on success, 1 for a usage or configuration problem, 2 if
// the results could not be reported, and 3 if a collective I/O operation
// failed and the group was aborted.
//
package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/NVIDIA/sfbench/blunder"
	"github.com/NVIDIA/sfbench/conf"
	"github.com/NVIDIA/sfbench/halter"
	"github.com/NVIDIA/sfbench/logger"
	"github.com/NVIDIA/sfbench/procgroup"
	"github.com/NVIDIA/sfbench/sfbench/sfbenchpkg"
	"github.com/NVIDIA/sfbench/utils"
)

const (
	exitSuccess = iota
	exitConfiguration
	exitReporting
	exitCollectiveIO
)

// version is set at link time via -ldflags "-X main.version=..."
var version = "unknown"

var (
	confFilePath   string
	groupType      string
	localGroupSize int
)

var rootCmd = &cobra.Command{
	Use:           "sfbench <rank-file> <MB-per-rank> <results-file> [<section_name>.<option_name>=<value>]*",
	Short:         "Measure aggregate write and read bandwidth of a group sharing one file",
	Args:          cobra.MinimumNArgs(3),
	SilenceErrors: true,
	SilenceUsage:  true,
	RunE:          rootRunE,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the sfbench version",
	Args:  cobra.NoArgs,
	RunE:  versionRunE,
}

var runIDCmd = &cobra.Command{
	Use:   "runid",
	Short: "Print a fresh run ID for launching a multi-process group",
	Args:  cobra.NoArgs,
	RunE:  runIDRunE,
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runIDCmd)

	rootCmd.Flags().StringVarP(&confFilePath, "conf", "c", "", "config file supplying options not given on the command line")
	rootCmd.Flags().StringVarP(&groupType, "group", "g", "", "process group type: local, etcd, or nats (sets SFBench.GroupType)")
	rootCmd.Flags().IntVarP(&localGroupSize, "ranks", "n", 0, "number of ranks in a local group (sets SFBench.LocalGroupSize)")
}

func main() {
	err := rootCmd.Execute()
	if nil != err {
		fmt.Fprintf(os.Stderr, "sfbench: %v\n", err)
		if exitConfiguration == exitCode(err) {
			_ = rootCmd.Usage()
		}
	}

	os.Exit(exitCode(err))
}

func exitCode(err error) int {
	if nil == err {
		return exitSuccess
	}

	switch blunder.Kind(err) {
	case blunder.ReportingError:
		return exitReporting
	case blunder.CollectiveIOError:
		return exitCollectiveIO
	default:
		return exitConfiguration
	}
}

func versionRunE(cmd *cobra.Command, args []string) (err error) {
	fmt.Fprintf(cmd.OutOrStdout(), "sfbench %s\n", version)
	err = nil
	return
}

func runIDRunE(cmd *cobra.Command, args []string) (err error) {
	fmt.Fprintln(cmd.OutOrStdout(), uuid.New().String())
	err = nil
	return
}

// buildConfMap layers, in order, the --conf file, the trailing override
// arguments, the three positional arguments, and the --group and --ranks
// flags.
func buildConfMap(cmd *cobra.Command, args []string) (confMap conf.ConfMap, err error) {
	if "" == confFilePath {
		confMap = conf.MakeConfMap()
	} else {
		confMap, err = conf.MakeConfMapFromFile(confFilePath)
		if nil != err {
			err = blunder.AddKind(err, blunder.ConfigurationError)
			return
		}
	}

	err = confMap.UpdateFromStrings(args[3:])
	if nil != err {
		err = blunder.AddKind(err, blunder.ConfigurationError)
		return
	}

	confMap.SetOptionValues("SFBench", "RankFilePath", args[0])
	confMap.SetOptionValues("SFBench", "MegabytesPerWorker", args[1])
	confMap.SetOptionValues("SFBench", "ResultsFilePath", args[2])

	if cmd.Flags().Changed("group") {
		confMap.SetOptionValues("SFBench", "GroupType", groupType)
	}
	if cmd.Flags().Changed("ranks") {
		confMap.SetOptionValues("SFBench", "LocalGroupSize", strconv.Itoa(localGroupSize))
	}

	err = nil
	return
}

func echoConfig(config sfbenchpkg.Config) {
	fmt.Printf("\nOutput file name for part 1 : %s\n", config.RankFilePath)
	fmt.Printf("MB per Rank = %dMB\n", config.MegabytesPerWorker)
	fmt.Printf("Output Result File Name = %s\n", config.ResultsFilePath)
}

func rootRunE(cmd *cobra.Command, args []string) (err error) {
	var (
		abortChan  chan error
		confMap    conf.ConfMap
		config     sfbenchpkg.Config
		result     *sfbenchpkg.BenchmarkResult
		signalChan chan os.Signal
	)

	confMap, err = buildConfMap(cmd, args)
	if nil != err {
		return
	}

	err = logger.Up(confMap)
	if nil != err {
		err = blunder.AddKind(err, blunder.ConfigurationError)
		return
	}
	defer func() {
		_ = logger.Down()
	}()

	config, err = sfbenchpkg.FetchConfig(confMap)
	if nil != err {
		return
	}

	logger.Infof("sfbench %s config: %s", version, utils.JSONify(config, false))

	// Setup signal catcher for clean abort

	abortChan = make(chan error, 1)
	signalChan = make(chan os.Signal, 1)

	signal.Notify(signalChan, unix.SIGINT, unix.SIGTERM)
	defer signal.Stop(signalChan)

	go func() {
		signalReceived := <-signalChan
		abortChan <- blunder.NewKindError(blunder.CollectiveIOError, blunder.CanceledError, "sfbench received signal %v", signalReceived)
	}()

	if procgroup.GroupTypeLocal == config.GroupType {
		echoConfig(config)
		result, err = sfbenchpkg.RunLocal(config, confMap, nil, abortChan)
	} else {
		result, err = runMember(config, confMap, abortChan)
	}

	if nil != err {
		logger.ErrorfWithError(err, "sfbench run %s failed", config.RunID)
		return
	}

	if nil != result {
		logger.Infof("sfbench run %s result: %s", config.RunID, utils.JSONify(result, false))
	}

	return
}

// runMember joins this process to a multi-process group and runs its rank.
func runMember(config sfbenchpkg.Config, confMap conf.ConfMap, abortChan <-chan error) (result *sfbenchpkg.BenchmarkResult, err error) {
	var (
		doneChan     chan struct{}
		group        procgroup.Group
		memberHalter *halter.Halter
	)

	group, err = procgroup.Join(confMap, config.GroupType)
	if nil != err {
		if !blunder.IsKind(err, blunder.ConfigurationError) {
			err = blunder.AddKind(err, blunder.CollectiveIOError)
		}
		return
	}
	defer func() {
		_ = group.Close()
	}()

	memberHalter, err = halter.NewFromConf(confMap, group.Rank())
	if nil != err {
		group.Abort(err)
		return
	}

	if procgroup.CoordinatorRank == group.Rank() {
		echoConfig(config)
	}

	doneChan = make(chan struct{})
	defer close(doneChan)

	go func() {
		select {
		case abortErr := <-abortChan:
			group.Abort(abortErr)
		case <-doneChan:
		}
	}()

	result, err = sfbenchpkg.RunMember(config, group, nil, memberHalter)
	return
}
