package main

import (
	"github.com/cuemby/monagent/pkg/adminsocket"
	"github.com/cuemby/monagent/pkg/bus"
	"github.com/cuemby/monagent/pkg/cli"
	"github.com/cuemby/monagent/pkg/config"
	"github.com/cuemby/monagent/pkg/crush"
	"github.com/cuemby/monagent/pkg/fetcher"
	"github.com/cuemby/monagent/pkg/jobs"
	"github.com/cuemby/monagent/pkg/probe"
	"github.com/cuemby/monagent/pkg/rados"
	"github.com/cuemby/monagent/pkg/subscriber"
)

// agent holds the wired components of one agent process
type agent struct {
	fqdn        string
	fetcher     *fetcher.Fetcher
	runner      *jobs.Runner
	heartbeater *probe.Heartbeater
	bus         *bus.Bus
}

// newAgent wires every component from the configuration
func newAgent(cfg *config.Config) (*agent, error) {
	fqdn, err := cfg.ResolveFQDN()
	if err != nil {
		return nil, err
	}

	cliRunner := cli.NewExecRunner()
	compiler := crush.NewTool(cliRunner, cfg.CrushtoolBin)
	admin := adminsocket.NewClient(cfg.AdminSocketTimeout, cfg.DescriptionsTTL)
	connector := rados.NewCLIConnector(cliRunner, cfg.CephBin, cfg.ConfDir, cfg.ClientName)

	f := fetcher.New(fetcher.Config{
		SocketDir: cfg.SocketDir,
		Timeout:   cfg.RadosTimeout,
	}, connector, admin, compiler)

	runner := jobs.New(jobs.Config{
		FQDN:    fqdn,
		CephBin: cfg.CephBin,
		RbdBin:  cfg.RbdBin,
	}, f, cliRunner, compiler)

	prober := probe.New(probe.Config{
		SocketDir: cfg.SocketDir,
		CephBin:   cfg.CephBin,
	}, admin, cliRunner)
	heartbeater := probe.NewHeartbeater(prober, f)

	b := bus.New(bus.Config{
		HeartbeatPeriod:   cfg.HeartbeatPeriod,
		MaxConcurrentJobs: cfg.MaxConcurrentJobs,
	}, runner, heartbeater)

	return &agent{
		fqdn:        fqdn,
		fetcher:     f,
		runner:      runner,
		heartbeater: heartbeater,
		bus:         b,
	}, nil
}

// subscribe returns a new subscriber on the agent's bus
func (a *agent) subscribe() *subscriber.Subscriber {
	return subscriber.New(a.bus, a.fqdn, a.runner)
}
