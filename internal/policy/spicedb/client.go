// Package spicedb implements the policy client over a SpiceDB cluster.
// Relations are stored as SpiceDB relationships and checked directly; the
// catalog evaluates inheritance and deny precedence itself.
package spicedb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	v1 "github.com/authzed/authzed-go/proto/authzed/api/v1"
	authzed "github.com/authzed/authzed-go/v1"
	"github.com/authzed/grpcutil"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"lake-catalog/internal/domain"
)

// DefaultBatchSize is the largest CheckBulkPermissions request sent.
const DefaultBatchSize = 100

// Config configures the connection.
type Config struct {
	Endpoint  string
	Token     string
	Insecure  bool
	BatchSize int
}

var _ domain.PolicyClient = (*Client)(nil)

// Client talks to SpiceDB over gRPC.
type Client struct {
	permissions v1.PermissionsServiceClient
	schema      v1.SchemaServiceClient
	batchSize   int
	logger      *slog.Logger
}

// Dial connects to SpiceDB.
func Dial(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("spicedb endpoint is required")
	}
	var opts []grpc.DialOption
	if cfg.Insecure {
		opts = append(opts,
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpcutil.WithInsecureBearerToken(cfg.Token),
		)
	} else {
		certs, err := grpcutil.WithSystemCerts(grpcutil.VerifyCA)
		if err != nil {
			return nil, fmt.Errorf("load system certificates: %w", err)
		}
		opts = append(opts, certs, grpcutil.WithBearerToken(cfg.Token))
	}
	c, err := authzed.NewClient(cfg.Endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to spicedb at %s: %w", cfg.Endpoint, err)
	}
	return New(c.PermissionsServiceClient, c.SchemaServiceClient, cfg.BatchSize, logger), nil
}

// New wraps already constructed service clients.
func New(permissions v1.PermissionsServiceClient, schema v1.SchemaServiceClient, batchSize int, logger *slog.Logger) *Client {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		permissions: permissions,
		schema:      schema,
		batchSize:   batchSize,
		logger:      logger.With("component", "spicedb"),
	}
}

// EnsureSchema writes the catalog schema.
func (c *Client) EnsureSchema(ctx context.Context) error {
	if _, err := c.schema.WriteSchema(ctx, &v1.WriteSchemaRequest{Schema: Schema()}); err != nil {
		return fmt.Errorf("write spicedb schema: %w", err)
	}
	c.logger.Info("spicedb schema written")
	return nil
}

// MaxBatchSize implements domain.PolicyClient.
func (c *Client) MaxBatchSize() int { return c.batchSize }

// QueryRelation implements domain.PolicyClient.
func (c *Client) QueryRelation(ctx context.Context, q domain.RelationQuery) (bool, error) {
	resp, err := c.permissions.CheckPermission(ctx, &v1.CheckPermissionRequest{
		Consistency: fullyConsistent(),
		Resource:    objectRef(q.Object),
		Permission:  string(q.Relation),
		Subject:     subjectRef(q.Subject),
	})
	if err != nil {
		return false, mapStatus(err)
	}
	return resp.GetPermissionship() == v1.CheckPermissionResponse_PERMISSIONSHIP_HAS_PERMISSION, nil
}

// BatchQuery implements domain.PolicyClient with one CheckBulkPermissions
// call. Callers split batches larger than MaxBatchSize.
func (c *Client) BatchQuery(ctx context.Context, qs []domain.RelationQuery) ([]bool, error) {
	if len(qs) == 0 {
		return nil, nil
	}
	if len(qs) > c.batchSize {
		return nil, fmt.Errorf("batch of %d exceeds limit %d", len(qs), c.batchSize)
	}
	items := make([]*v1.CheckBulkPermissionsRequestItem, len(qs))
	for i, q := range qs {
		items[i] = &v1.CheckBulkPermissionsRequestItem{
			Resource:   objectRef(q.Object),
			Permission: string(q.Relation),
			Subject:    subjectRef(q.Subject),
		}
	}
	resp, err := c.permissions.CheckBulkPermissions(ctx, &v1.CheckBulkPermissionsRequest{
		Consistency: fullyConsistent(),
		Items:       items,
	})
	if err != nil {
		return nil, mapStatus(err)
	}
	pairs := resp.GetPairs()
	if len(pairs) != len(qs) {
		return nil, fmt.Errorf("spicedb answered %d of %d checks", len(pairs), len(qs))
	}
	out := make([]bool, len(qs))
	for i, pair := range pairs {
		if e := pair.GetError(); e != nil {
			return nil, fmt.Errorf("check %s#%s: %s", qs[i].Object, qs[i].Relation, e.GetMessage())
		}
		out[i] = pair.GetItem().GetPermissionship() == v1.CheckPermissionResponse_PERMISSIONSHIP_HAS_PERMISSION
	}
	return out, nil
}

// Assert implements domain.PolicyClient. Touching an existing relationship
// is a no-op.
func (c *Client) Assert(ctx context.Context, t domain.Tuple) error {
	return c.write(ctx, v1.RelationshipUpdate_OPERATION_TOUCH, t)
}

// Revoke implements domain.PolicyClient.
func (c *Client) Revoke(ctx context.Context, t domain.Tuple) error {
	return c.write(ctx, v1.RelationshipUpdate_OPERATION_DELETE, t)
}

func (c *Client) write(ctx context.Context, op v1.RelationshipUpdate_Operation, t domain.Tuple) error {
	_, err := c.permissions.WriteRelationships(ctx, &v1.WriteRelationshipsRequest{
		Updates: []*v1.RelationshipUpdate{{Operation: op, Relationship: toRelationship(t)}},
	})
	return mapStatus(err)
}

// RevokeObject implements domain.PolicyClient.
func (c *Client) RevokeObject(ctx context.Context, object domain.NodeRef) error {
	_, err := c.permissions.DeleteRelationships(ctx, &v1.DeleteRelationshipsRequest{
		RelationshipFilter: &v1.RelationshipFilter{
			ResourceType:       string(object.Kind),
			OptionalResourceId: EncodeID(object.ID),
		},
	})
	return mapStatus(err)
}

// ListTuples implements domain.PolicyClient.
func (c *Client) ListTuples(ctx context.Context, object domain.NodeRef) ([]domain.Tuple, error) {
	stream, err := c.permissions.ReadRelationships(ctx, &v1.ReadRelationshipsRequest{
		Consistency: fullyConsistent(),
		RelationshipFilter: &v1.RelationshipFilter{
			ResourceType:       string(object.Kind),
			OptionalResourceId: EncodeID(object.ID),
		},
	})
	if err != nil {
		return nil, mapStatus(err)
	}
	var out []domain.Tuple
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, mapStatus(err)
		}
		t, err := fromRelationship(resp.GetRelationship())
		if err != nil {
			c.logger.Warn("skipping unreadable relationship", "error", err)
			continue
		}
		out = append(out, t)
	}
}

func fullyConsistent() *v1.Consistency {
	return &v1.Consistency{Requirement: &v1.Consistency_FullyConsistent{FullyConsistent: true}}
}

func objectRef(ref domain.NodeRef) *v1.ObjectReference {
	return &v1.ObjectReference{ObjectType: string(ref.Kind), ObjectId: EncodeID(ref.ID)}
}

func subjectRef(s domain.Subject) *v1.SubjectReference {
	kind := s.Kind
	if kind == "" {
		kind = domain.SubjectUser
	}
	return &v1.SubjectReference{Object: &v1.ObjectReference{ObjectType: string(kind), ObjectId: EncodeID(s.ID)}}
}

func toRelationship(t domain.Tuple) *v1.Relationship {
	return &v1.Relationship{
		Resource: objectRef(t.Object),
		Relation: string(t.Relation),
		Subject:  subjectRef(t.Subject),
	}
}

func fromRelationship(r *v1.Relationship) (domain.Tuple, error) {
	objID, err := DecodeID(r.GetResource().GetObjectId())
	if err != nil {
		return domain.Tuple{}, err
	}
	subID, err := DecodeID(r.GetSubject().GetObject().GetObjectId())
	if err != nil {
		return domain.Tuple{}, err
	}
	return domain.Tuple{
		Subject:  domain.Subject{ID: subID, Kind: domain.SubjectKind(r.GetSubject().GetObject().GetObjectType())},
		Relation: domain.Relation(r.GetRelation()),
		Object:   domain.NodeRef{Kind: domain.NodeKind(r.GetResource().GetObjectType()), ID: objID},
	}, nil
}

// mapStatus turns request errors caused by the caller into validation
// errors. Everything else is returned wrapped so the gate can retry it.
func mapStatus(err error) error {
	if err == nil {
		return nil
	}
	switch status.Code(err) {
	case codes.InvalidArgument, codes.FailedPrecondition:
		return domain.ErrValidation("policy service rejected request: %s", status.Convert(err).Message())
	}
	return fmt.Errorf("spicedb: %w", err)
}
