package blare

import (
	"os"
	"path/filepath"

	"github.com/gen2brain/beeep"
	"go.uber.org/zap"

	"github.com/blarehq/blare/pkg/blare/icon"
	"github.com/blarehq/blare/pkg/blare/util"
)

// Notifier sends desktop notifications.
type Notifier interface {
	Notify(title string, message string)
}

// ToastNotifier sends notifications through the platform notification
// center.
type ToastNotifier struct {
	logger *zap.SugaredLogger
}

// NewToastNotifier creates a new ToastNotifier.
func NewToastNotifier(logger *zap.SugaredLogger) (*ToastNotifier, error) {
	logger = logger.Named("notifier")
	logger.Debug("Created toast notifier instance")

	return &ToastNotifier{logger: logger}, nil
}

// Notify sends a notification, writing the logo next to the temp dir the
// first time so the toast can reference it by path.
func (tn *ToastNotifier) Notify(title string, message string) {
	appIconPath := filepath.Join(os.TempDir(), "blare.ico")

	if !util.FileExists(appIconPath) {
		tn.logger.Debugw("blare icon file missing, creating", "path", appIconPath)

		if err := os.WriteFile(appIconPath, icon.Logo, 0o644); err != nil {
			tn.logger.Errorw("Failed to create toast notification icon", "error", err)
		}
	}

	tn.logger.Infow("Sending toast notification", "title", title, "message", message)

	if err := beeep.Notify(title, message, appIconPath); err != nil {
		tn.logger.Errorw("Failed to send toast notification", "error", err)
	}
}
