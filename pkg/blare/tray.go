package blare

import (
	"time"

	"github.com/getlantern/systray"
	"go.uber.org/zap"

	"github.com/blarehq/blare/pkg/blare/icon"
	"github.com/blarehq/blare/pkg/blare/util"
)

const trayStatusInterval = 2 * time.Second

func (b *Blare) initializeTray(onDone func()) {
	logger := b.logger.Named("tray")

	onReady := func() {
		logger.Debug("Tray instance ready")

		systray.SetTemplateIcon(icon.Logo, icon.Logo)
		systray.SetTitle("blare")
		systray.SetTooltip("blare")

		status := systray.AddMenuItem(b.fanout.units.summary(), "")
		status.Disable()

		systray.AddSeparator()

		restart := systray.AddMenuItem("Restart playback", "Reopen every output device and start over")
		editConfig := systray.AddMenuItem("Edit configuration", "Open config file with the default editor")

		if b.version != "" {
			systray.AddSeparator()
			versionInfo := systray.AddMenuItem(b.version, "")
			versionInfo.Disable()
		}

		systray.AddSeparator()
		quit := systray.AddMenuItem("Quit", "Stop blare and quit")

		go b.handleTrayActions(logger, status, restart, editConfig, quit)

		// actually start the main runtime
		onDone()
	}

	onExit := func() {
		logger.Debug("Tray exited")
	}

	logger.Debug("Running in tray")
	systray.Run(onReady, onExit)
}

func (b *Blare) handleTrayActions(logger *zap.SugaredLogger, status, restart, editConfig, quit *systray.MenuItem) {
	ticker := time.NewTicker(trayStatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-quit.ClickedCh:
			logger.Info("Quit menu item clicked, stopping")
			b.signalStop()
			return

		case <-restart.ClickedCh:
			logger.Info("Restart playback menu item clicked, restarting")
			b.restartPlayback()

		case <-editConfig.ClickedCh:
			logger.Info("Edit config menu item clicked, opening config for editing")

			if err := util.OpenExternal(logger, util.Editor(), b.config.Path()); err != nil {
				logger.Warnw("Failed to open config file for editing", "error", err)
			}

		case <-ticker.C:
			status.SetTitle(b.fanout.units.summary())
		}
	}
}

func (b *Blare) stopTray() {
	b.logger.Debug("Quitting tray")
	systray.Quit()
}
