package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	cloudtasks "cloud.google.com/go/cloudtasks/apiv2"
	"cloud.google.com/go/cloudtasks/apiv2/cloudtaskspb"
	"github.com/googleapis/gax-go/v2"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// TaskCreator is the subset of the Cloud Tasks client used here.
type TaskCreator interface {
	CreateTask(ctx context.Context, req *cloudtaskspb.CreateTaskRequest, opts ...gax.CallOption) (*cloudtaskspb.Task, error)
}

var _ TaskCreator = (*cloudtasks.Client)(nil)

// CloudTasksConfig addresses the queue and the processing endpoint.
type CloudTasksConfig struct {
	QueuePath           string
	BaseURL             string
	Token               string
	ServiceAccountEmail string
}

// CloudTasks enqueues an HTTP task per notification.
type CloudTasks struct {
	client TaskCreator
	cfg    CloudTasksConfig
}

func NewCloudTasks(client TaskCreator, cfg CloudTasksConfig) *CloudTasks {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &CloudTasks{client: client, cfg: cfg}
}

var taskIDUnsafe = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// taskName derives a stable name so a re-enqueue of the same notification is
// rejected by the queue as a duplicate.
func (c *CloudTasks) taskName(userID string, historyID uint64) string {
	id := fmt.Sprintf("gmail-%s-%d", taskIDUnsafe.ReplaceAllString(userID, "_"), historyID)
	return c.cfg.QueuePath + "/tasks/" + id
}

// Dispatch enqueues a processing task. An already existing task counts as
// success.
func (c *CloudTasks) Dispatch(ctx context.Context, userID string, historyID uint64) error {
	body, err := json.Marshal(ProcessRequest{UserID: userID, HistoryID: historyID})
	if err != nil {
		return fmt.Errorf("failed to marshal task body: %w", err)
	}

	url := c.cfg.BaseURL + ProcessPath
	httpReq := &cloudtaskspb.HttpRequest{
		HttpMethod: cloudtaskspb.HttpMethod_POST,
		Url:        url,
		Headers: map[string]string{
			"Content-Type": "application/json",
			TokenHeader:    c.cfg.Token,
		},
		Body: body,
	}
	if c.cfg.ServiceAccountEmail != "" {
		httpReq.AuthorizationHeader = &cloudtaskspb.HttpRequest_OidcToken{
			OidcToken: &cloudtaskspb.OidcToken{
				ServiceAccountEmail: c.cfg.ServiceAccountEmail,
				Audience:            url,
			},
		}
	}

	req := &cloudtaskspb.CreateTaskRequest{
		Parent: c.cfg.QueuePath,
		Task: &cloudtaskspb.Task{
			Name:        c.taskName(userID, historyID),
			MessageType: &cloudtaskspb.Task_HttpRequest{HttpRequest: httpReq},
		},
	}

	log := logrus.WithFields(logrus.Fields{"user_id": userID, "history_id": historyID})
	if _, err := c.client.CreateTask(ctx, req); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			log.Debug("Duplicate Cloud Task skipped")
			return nil
		}
		log.Errorf("Failed to enqueue Cloud Task: %v", err)
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	log.Debug("Cloud Task enqueued")
	return nil
}
