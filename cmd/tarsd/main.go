// Package main runs the motion daemon: it drives the servos through a PCA9685
// and, when configured, takes commands from a gamepad.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"github.com/tars-em/motioncore/components/buses"
	"github.com/tars-em/motioncore/components/buses/fake"
	"github.com/tars-em/motioncore/components/input"
	"github.com/tars-em/motioncore/components/input/gamepad"
	"github.com/tars-em/motioncore/components/pca9685"
	"github.com/tars-em/motioncore/config"
	"github.com/tars-em/motioncore/logging"
	"github.com/tars-em/motioncore/services/gamepadcontrol"
	"github.com/tars-em/motioncore/services/movement"
	"github.com/tars-em/motioncore/services/safety"
)

var logger = logging.NewLogger("tarsd")

func main() {
	goutils.ContextualMain(mainWithArgs, logger)
}

// Arguments for the command.
type Arguments struct {
	ConfigFile string `flag:"0,usage=config file"`
	Debug      bool   `flag:"debug,usage=log at debug level"`
	Mock       bool   `flag:"mock,usage=drive an in-memory PWM controller instead of the i2c bus"`
	Calibrate  bool   `flag:"calibrate,usage=sweep every servo through its range before starting"`
}

func mainWithArgs(ctx context.Context, args []string, logger logging.Logger) (err error) {
	var argsParsed Arguments
	if err := goutils.ParseFlags(args, &argsParsed); err != nil {
		return err
	}

	cfg, err := loadConfig(ctx, argsParsed, logger)
	if err != nil {
		return err
	}
	logger.SetLevel(cfg.LogLevel())
	if argsParsed.Debug {
		logger.SetLevel(logging.DEBUG)
		ctx = logging.EnableDebugMode(ctx, "")
	}
	if cfg.Log.File != "" {
		appender := logging.NewFileAppender(cfg.Log.File, cfg.Log.MaxSizeMB, cfg.Log.MaxBackups)
		logger.AddAppender(appender)
		defer func() {
			err = multierr.Combine(err, appender.Close())
		}()
	}

	d, err := newDaemon(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, d.Close(context.Background()))
	}()

	if argsParsed.Calibrate {
		if err := d.movement.CalibrateServos(ctx); err != nil {
			return err
		}
	}

	resets := make(chan os.Signal, 1)
	signal.Notify(resets, syscall.SIGUSR1)
	defer signal.Stop(resets)

	d.Start()
	goutils.ContextMainReadyFunc(ctx)()
	logger.Infow("motion daemon running", "mock", cfg.I2C.Mock, "gamepad", cfg.Gamepad.Enabled)

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return nil
		case <-resets:
			logger.Warn("clearing emergency stop")
			d.gate.Reset()
		}
	}
}

func loadConfig(ctx context.Context, argsParsed Arguments, logger logging.Logger) (*config.Config, error) {
	var cfg *config.Config
	if argsParsed.ConfigFile == "" {
		cfg = &config.Config{}
		if err := cfg.Ensure(); err != nil {
			return nil, err
		}
	} else {
		var err error
		cfg, err = config.Read(ctx, argsParsed.ConfigFile, logger)
		if err != nil {
			return nil, err
		}
	}
	if argsParsed.Mock {
		cfg.I2C.Mock = true
	}
	return cfg, nil
}

// daemon owns every long lived part of the process.
type daemon struct {
	closeBus func() error
	driver   *pca9685.Driver
	gate     *safety.Gate
	movement *movement.Controller
	device   input.Controller
	pipeline *gamepadcontrol.Pipeline
}

// newDaemon builds the stack bottom up: transport, PWM driver, safety gate,
// movement controller and, if enabled, the gamepad pipeline. Anything built
// before a failure is closed again.
func newDaemon(ctx context.Context, cfg *config.Config, logger logging.Logger) (_ *daemon, err error) {
	d := &daemon{}
	defer func() {
		if err != nil {
			err = multierr.Combine(err, d.Close(ctx))
		}
	}()

	registry, err := cfg.Registry()
	if err != nil {
		return nil, err
	}

	var bus buses.I2C
	if cfg.I2C.Mock {
		logger.Info("using in-memory PWM controller")
		bus = fake.NewI2C()
	} else {
		periphBus, err := buses.NewPeriphI2C(buses.BusName(*cfg.I2C.Bus), logger.Sublogger("i2c"))
		if err != nil {
			return nil, err
		}
		d.closeBus = periphBus.Close
		bus = periphBus
	}
	handle, err := bus.OpenHandle(byte(cfg.I2C.Address))
	if err != nil {
		return nil, err
	}

	d.driver = pca9685.New(handle, registry, cfg.PWM.FrequencyHz, nil, logger.Sublogger("pca9685"))
	if err := d.driver.Initialize(ctx); err != nil {
		return nil, err
	}

	d.gate = safety.NewGate(cfg.SafetyConfig(), nil, logger.Sublogger("safety"))
	d.movement = movement.New(d.driver, d.gate, cfg.MovementConfig(), nil, logger.Sublogger("movement"))

	if cfg.Gamepad.Enabled {
		if cfg.Gamepad.Device == "" {
			devices, err := gamepad.Devices()
			if err != nil {
				return nil, err
			}
			for _, dev := range devices {
				logger.Debugw("input device", "path", dev.Path, "name", dev.Name, "gamepad", dev.Gamepad)
			}
		}
		device, err := gamepad.New(ctx, gamepad.Config{DevicePath: cfg.Gamepad.Device}, logger.Sublogger("gamepad"))
		if err != nil {
			return nil, err
		}
		d.device = device
		d.pipeline = gamepadcontrol.New(
			ctx, d.device, d.movement, d.gate, cfg.GamepadConfig(), nil, logger.Sublogger("gamepadcontrol"))
	}
	return d, nil
}

// Start runs the gamepad pipeline and the watchdog it feeds. Without a
// gamepad there is no command source to watch.
func (d *daemon) Start() {
	if d.pipeline == nil {
		return
	}
	// the window starts now, not when the gate was built before calibration
	d.gate.FeedWatchdog()
	d.gate.Start()
	d.pipeline.Start()
}

// Close stops input first so no command races the outputs being turned off.
func (d *daemon) Close(ctx context.Context) error {
	var err error
	if d.pipeline != nil {
		d.pipeline.Close()
	}
	if d.device != nil {
		err = multierr.Combine(err, d.device.Close(ctx))
	}
	if d.gate != nil {
		d.gate.Close()
	}
	if d.driver != nil {
		err = multierr.Combine(err, d.driver.Close(ctx))
	}
	if d.closeBus != nil {
		err = multierr.Combine(err, d.closeBus())
	}
	return err
}
