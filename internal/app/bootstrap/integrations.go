package bootstrap

import (
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/wolfman30/studio-booking/internal/archive"
	appconfig "github.com/wolfman30/studio-booking/internal/config"
	"github.com/wolfman30/studio-booking/internal/mirror"
	"github.com/wolfman30/studio-booking/internal/notify"
	"github.com/wolfman30/studio-booking/pkg/logging"
)

const memoryQueueBuffer = 256

// BuildMirrorQueue returns the SQS retry queue when MIRROR_QUEUE_URL is set
// and an in-process queue otherwise.
func BuildMirrorQueue(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) mirror.Queue {
	if cfg.MirrorQueueURL == "" {
		if logger != nil {
			logger.Info("mirror retry queue running in memory")
		}
		return mirror.NewMemoryQueue(memoryQueueBuffer)
	}
	return mirror.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.MirrorQueueURL)
}

// BuildEmailSender picks the provider named by EMAIL_PROVIDER.
func BuildEmailSender(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) (notify.EmailSender, error) {
	switch cfg.EmailProvider {
	case "", "stub":
		return notify.NewStubEmailSender(logger), nil
	case "sendgrid":
		sender := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.EmailFrom,
			FromName:  cfg.EmailFromName,
		}, logger)
		if sender == nil {
			return nil, fmt.Errorf("bootstrap: SENDGRID_API_KEY is required for the sendgrid provider")
		}
		return sender, nil
	case "ses":
		return notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{
			FromEmail: cfg.EmailFrom,
			FromName:  cfg.EmailFromName,
		}, logger), nil
	}
	return nil, fmt.Errorf("bootstrap: unknown EMAIL_PROVIDER %q", cfg.EmailProvider)
}

// BuildNotifier wraps the email sender with the booking confirmation templates.
func BuildNotifier(cfg *appconfig.Config, email notify.EmailSender, loc *time.Location, logger *logging.Logger) *notify.Service {
	return notify.NewService(email, notify.ServiceConfig{
		OwnerEmail: cfg.OwnerEmail,
		StudioName: cfg.StudioLocation,
		Location:   loc,
	}, logger)
}

// BuildArchiver returns nil when ARCHIVE_BUCKET is unset.
func BuildArchiver(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) *archive.Exporter {
	if cfg.ArchiveBucket == "" {
		return nil
	}
	return archive.NewExporter(s3.NewFromConfig(awsCfg), archive.Config{
		Bucket: cfg.ArchiveBucket,
		Redact: cfg.ArchiveRedact,
	}, logger)
}
