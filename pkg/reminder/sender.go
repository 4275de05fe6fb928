package reminder

import (
	"context"
	"fmt"
	"log"

	firebase "firebase.google.com/go"
	"firebase.google.com/go/messaging"
	"google.golang.org/api/option"
)

// MessageClient is the part of *messaging.Client used by FCMSender.
type MessageClient interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// FCMSender pushes reminders to the vehicle's FCM topic. Devices subscribe
// to "vehicle-<id>" for every vehicle they track.
type FCMSender struct {
	client MessageClient
}

// NewFCMSender initialises a Firebase app from a service account file.
func NewFCMSender(ctx context.Context, credentialsFile string) (*FCMSender, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("init firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("init firebase messaging: %w", err)
	}
	return &FCMSender{client: client}, nil
}

func NewFCMSenderWithClient(client MessageClient) *FCMSender {
	return &FCMSender{client: client}
}

func (s *FCMSender) Send(ctx context.Context, req Request) error {
	response, err := s.client.Send(ctx, BuildMessage(req))
	if err != nil {
		return fmt.Errorf("send reminder %s: %w", req.Key, err)
	}
	log.Printf("Reminder %s sent: %s", req.Key, response)
	return nil
}

// Topic is the FCM topic for a vehicle's reminders.
func Topic(vehicleID string) string {
	return "vehicle-" + vehicleID
}

// BuildMessage converts a request into a high priority notification.
func BuildMessage(req Request) *messaging.Message {
	return &messaging.Message{
		Topic: Topic(req.Context.VehicleID),
		Notification: &messaging.Notification{
			Title: req.Title,
			Body:  req.Body,
		},
		Data: map[string]string{
			"key":       req.Key,
			"vehicleId": req.Context.VehicleID,
			"itemId":    req.Context.ItemID,
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				ChannelID: "maintenance_reminders",
			},
		},
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{
				"apns-priority": "10",
			},
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Alert: &messaging.ApsAlert{
						Title: req.Title,
						Body:  req.Body,
					},
					Sound: "default",
				},
			},
		},
	}
}

// LogSender writes deliveries to the log. Used when no push credentials are
// configured.
type LogSender struct{}

func (LogSender) Send(_ context.Context, req Request) error {
	log.Printf("Reminder %s for vehicle %s: %s - %s", req.Key, req.Context.VehicleID, req.Title, req.Body)
	return nil
}
