package credential

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lake-catalog/internal/domain"
	"lake-catalog/internal/testutil"
)

func testProfile() domain.StorageProfile {
	return domain.StorageProfile{
		Type:          domain.StorageTypeS3,
		Bucket:        "lake",
		KeyPrefix:     "w1",
		Region:        "eu-west-1",
		AssumeRoleARN: "arn:aws:iam::123456789012:role/catalog",
	}
}

// scopedBackend encodes the grant into the material and enforces it on
// probe, like a correctly configured backend.
func scopedBackend() *testutil.MockStorageBackend {
	return &testutil.MockStorageBackend{
		TypeValue: domain.StorageTypeS3,
		IssueFn: func(_ context.Context, _ *domain.StorageProfile, req domain.IssueRequest) (*domain.IssuedMaterial, error) {
			var prefixes []string
			for _, p := range req.Prefixes {
				prefixes = append(prefixes, p.Prefix())
			}
			var actions []string
			for _, a := range req.Actions.Sorted() {
				actions = append(actions, string(a))
			}
			return &domain.IssuedMaterial{
				Material: map[string]string{
					"prefixes": strings.Join(prefixes, ","),
					"actions":  strings.Join(actions, ","),
				},
				ExpiresAt: time.Now().Add(req.TTL),
			}, nil
		},
		ProbeFn: func(_ context.Context, _ *domain.StorageProfile, m map[string]string, target domain.Location, action domain.StorageAction) (domain.ProbeResult, error) {
			if !strings.Contains(","+m["actions"]+",", ","+string(action)+",") {
				return domain.ProbeDenied, nil
			}
			for _, p := range strings.Split(m["prefixes"], ",") {
				if strings.HasPrefix(target.Prefix(), p) {
					return domain.ProbeAllowed, nil
				}
			}
			return domain.ProbeDenied, nil
		},
	}
}

// ignoringBackend issues credentials but allows everything on probe.
func ignoringBackend() *testutil.MockStorageBackend {
	b := scopedBackend()
	b.ProbeFn = func(context.Context, *domain.StorageProfile, map[string]string, domain.Location, domain.StorageAction) (domain.ProbeResult, error) {
		return domain.ProbeAllowed, nil
	}
	return b
}

func newEngine(b domain.StorageBackend, cfg Config) *Engine {
	return NewEngine([]domain.StorageBackend{b}, cfg, nil)
}

func TestEngine_Grant_ExactScope(t *testing.T) {
	e := newEngine(scopedBackend(), Config{})
	data := domain.Location("s3://lake/w1/n1/t1/data")

	cred, err := e.Grant(context.Background(), domain.GrantRequest{
		Profile:   testProfile(),
		MaxTTL:    15 * time.Minute,
		Actions:   domain.NewActionSet(domain.ActionPut),
		Locations: []domain.Location{data, data + "/"},
	})
	require.NoError(t, err)
	assert.Equal(t, []domain.StorageAction{domain.ActionPut}, cred.AllowedActions)
	assert.Equal(t, []string{"s3://lake/w1/n1/t1/data/"}, cred.AllowedPrefixes)
	assert.WithinDuration(t, cred.IssuedAt.Add(15*time.Minute), cred.ExpiresAt, time.Second)
	assert.Equal(t, "put", cred.Material["actions"])
	assert.Equal(t, domain.StorageTypeS3, cred.BackendType)

	// Writes outside the data prefix are denied.
	b := scopedBackend()
	res, err := b.Probe(context.Background(), nil, cred.Material, "s3://lake/w1/n1/t1/metadata/x", domain.ActionPut)
	require.NoError(t, err)
	assert.Equal(t, domain.ProbeDenied, res)
	res, err = b.Probe(context.Background(), nil, cred.Material, "s3://lake/w1/n1/t1/data/x", domain.ActionGet)
	require.NoError(t, err)
	assert.Equal(t, domain.ProbeDenied, res, "read access was never requested")
}

func TestEngine_ClampTTL(t *testing.T) {
	tests := []struct {
		name     string
		cap      time.Duration
		maxTTL   time.Duration
		request  time.Duration
		expected time.Duration
	}{
		{"zero requests warehouse max", 0, 15 * time.Minute, 0, 15 * time.Minute},
		{"longer request is clamped", 0, 15 * time.Minute, 2 * time.Hour, 15 * time.Minute},
		{"shorter request is kept", 0, 15 * time.Minute, 5 * time.Minute, 5 * time.Minute},
		{"process cap below warehouse max", 10 * time.Minute, time.Hour, 0, 10 * time.Minute},
		{"unset warehouse max uses default", 0, 0, time.Hour, domain.DefaultMaxCredentialTTL},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEngine(scopedBackend(), Config{MaxTTL: tt.cap})
			assert.Equal(t, tt.expected, e.ClampTTL(tt.request, tt.maxTTL))

			cred, err := e.Grant(context.Background(), domain.GrantRequest{
				Profile:   testProfile(),
				MaxTTL:    tt.maxTTL,
				Actions:   domain.NewActionSet(domain.ActionGet),
				Locations: []domain.Location{"s3://lake/w1/n1/t1/data"},
				TTL:       tt.request,
			})
			require.NoError(t, err)
			assert.LessOrEqual(t, cred.TTL(), tt.expected+time.Second)
		})
	}
}

func TestEngine_Grant_ScopeValidation(t *testing.T) {
	e := newEngine(scopedBackend(), Config{})
	ctx := context.Background()
	base := domain.GrantRequest{Profile: testProfile(), Actions: domain.NewActionSet(domain.ActionGet)}

	tests := []struct {
		name      string
		locations []domain.Location
		allowRoot bool
		wantErr   bool
	}{
		{"outside root", []domain.Location{"s3://lake/w2/n1"}, false, true},
		{"other bucket", []domain.Location{"s3://other/w1/n1"}, false, true},
		{"sibling with shared prefix", []domain.Location{"s3://lake/w10/n1"}, false, true},
		{"root without breadth", []domain.Location{"s3://lake/w1"}, false, true},
		{"root with breadth", []domain.Location{"s3://lake/w1"}, true, false},
		{"relative segment", []domain.Location{"s3://lake/w1/../w2"}, false, true},
		{"no locations", nil, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := base
			req.Locations = tt.locations
			req.AllowRoot = tt.allowRoot
			_, err := e.Grant(ctx, req)
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			var ve *domain.ValidationError
			require.ErrorAs(t, err, &ve)
		})
	}

	t.Run("no actions", func(t *testing.T) {
		_, err := e.Grant(ctx, domain.GrantRequest{Profile: testProfile(), Locations: []domain.Location{"s3://lake/w1/a"}})
		var ve *domain.ValidationError
		require.ErrorAs(t, err, &ve)
	})
}

func TestEngine_Grant_BackendFailureNotRetried(t *testing.T) {
	var calls atomic.Int32
	b := &testutil.MockStorageBackend{
		TypeValue: domain.StorageTypeS3,
		IssueFn: func(context.Context, *domain.StorageProfile, domain.IssueRequest) (*domain.IssuedMaterial, error) {
			calls.Add(1)
			return nil, errors.New("sts: connection refused")
		},
	}
	_, err := newEngine(b, Config{}).Grant(context.Background(), domain.GrantRequest{
		Profile:   testProfile(),
		Actions:   domain.NewActionSet(domain.ActionGet),
		Locations: []domain.Location{"s3://lake/w1/n1"},
	})
	var ve *domain.CredentialVendingError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, domain.StorageTypeS3, ve.Backend)
	assert.Equal(t, int32(1), calls.Load())
}

func TestEngine_Grant_RejectsOverlongCredential(t *testing.T) {
	b := scopedBackend()
	b.IssueFn = func(context.Context, *domain.StorageProfile, domain.IssueRequest) (*domain.IssuedMaterial, error) {
		return &domain.IssuedMaterial{Material: map[string]string{"k": "v"}, ExpiresAt: time.Now().Add(12 * time.Hour)}, nil
	}
	_, err := newEngine(b, Config{}).Grant(context.Background(), domain.GrantRequest{
		Profile:   testProfile(),
		MaxTTL:    15 * time.Minute,
		Actions:   domain.NewActionSet(domain.ActionGet),
		Locations: []domain.Location{"s3://lake/w1/n1"},
	})
	var ve *domain.CredentialVendingError
	require.ErrorAs(t, err, &ve)
}

func TestEngine_Grant_ReportsBackendExpiry(t *testing.T) {
	b := scopedBackend()
	var issued time.Time
	b.IssueFn = func(_ context.Context, _ *domain.StorageProfile, req domain.IssueRequest) (*domain.IssuedMaterial, error) {
		issued = time.Now().Add(req.TTL + 20*time.Second)
		return &domain.IssuedMaterial{Material: map[string]string{"k": "v"}, ExpiresAt: issued}, nil
	}
	cred, err := newEngine(b, Config{}).Grant(context.Background(), domain.GrantRequest{
		Profile:   testProfile(),
		MaxTTL:    15 * time.Minute,
		Actions:   domain.NewActionSet(domain.ActionGet),
		Locations: []domain.Location{"s3://lake/w1/n1"},
	})
	require.NoError(t, err)
	assert.True(t, issued.Equal(cred.ExpiresAt), "expires_at must match the issued material")
	assert.Greater(t, cred.TTL(), 15*time.Minute)
}

func TestEngine_Grant_UnknownBackend(t *testing.T) {
	p := testProfile()
	p.Type = domain.StorageTypeGCS
	_, err := newEngine(scopedBackend(), Config{}).Grant(context.Background(), domain.GrantRequest{
		Profile: p, Actions: domain.NewActionSet(domain.ActionGet), Locations: []domain.Location{"gs://lake/w1/n1"},
	})
	var ve *domain.CredentialVendingError
	require.ErrorAs(t, err, &ve)
}

func TestEngine_SelfCheck(t *testing.T) {
	ctx := context.Background()

	t.Run("scoped backend passes", func(t *testing.T) {
		require.NoError(t, newEngine(scopedBackend(), Config{}).SelfCheck(ctx, testProfile(), time.Hour))
	})

	t.Run("backend ignoring scope fails", func(t *testing.T) {
		err := newEngine(ignoringBackend(), Config{}).SelfCheck(ctx, testProfile(), time.Hour)
		var dv *domain.DownscopingValidationError
		require.ErrorAs(t, err, &dv)
		assert.Contains(t, dv.Message, "put on")
		assert.Contains(t, dv.Message, "get on")
	})

	t.Run("probe transport failure", func(t *testing.T) {
		b := scopedBackend()
		b.ProbeFn = func(context.Context, *domain.StorageProfile, map[string]string, domain.Location, domain.StorageAction) (domain.ProbeResult, error) {
			return "", errors.New("dial tcp: i/o timeout")
		}
		err := newEngine(b, Config{}).SelfCheck(ctx, testProfile(), time.Hour)
		var ve *domain.CredentialVendingError
		require.ErrorAs(t, err, &ve)
	})

	t.Run("issuance failure", func(t *testing.T) {
		b := scopedBackend()
		b.IssueFn = func(context.Context, *domain.StorageProfile, domain.IssueRequest) (*domain.IssuedMaterial, error) {
			return nil, errors.New("AccessDenied: not authorized to perform sts:AssumeRole")
		}
		err := newEngine(b, Config{}).SelfCheck(ctx, testProfile(), time.Hour)
		var ve *domain.CredentialVendingError
		require.ErrorAs(t, err, &ve)
	})

	t.Run("probes stay under the root", func(t *testing.T) {
		b := scopedBackend()
		var targets []domain.Location
		probe := b.ProbeFn
		var mu = make(chan struct{}, 1)
		b.ProbeFn = func(ctx context.Context, p *domain.StorageProfile, m map[string]string, target domain.Location, a domain.StorageAction) (domain.ProbeResult, error) {
			mu <- struct{}{}
			targets = append(targets, target)
			<-mu
			return probe(ctx, p, m, target, a)
		}
		require.NoError(t, newEngine(b, Config{}).SelfCheck(ctx, testProfile(), time.Hour))
		require.Len(t, targets, 4)
		p := testProfile()
		root := p.Root()
		for _, target := range targets {
			assert.True(t, target.IsBeneath(root))
		}
	})
}

type flooredBackend struct {
	*testutil.MockStorageBackend
	floor time.Duration
}

func (b flooredBackend) MinTTL() time.Duration { return b.floor }

func TestEngine_Grant_BackendFloor(t *testing.T) {
	b := flooredBackend{MockStorageBackend: scopedBackend(), floor: 15 * time.Minute}
	req := domain.GrantRequest{
		Profile:   testProfile(),
		Actions:   domain.NewActionSet(domain.ActionGet),
		Locations: []domain.Location{"s3://lake/w1/n1"},
		TTL:       time.Minute,
	}

	t.Run("short request raised to floor", func(t *testing.T) {
		req := req
		req.MaxTTL = time.Hour
		cred, err := newEngine(b, Config{}).Grant(context.Background(), req)
		require.NoError(t, err)
		assert.WithinDuration(t, cred.IssuedAt.Add(15*time.Minute), cred.ExpiresAt, time.Second)
	})

	t.Run("warehouse limit below floor", func(t *testing.T) {
		req := req
		req.MaxTTL = 10 * time.Minute
		_, err := newEngine(b, Config{}).Grant(context.Background(), req)
		var ve *domain.CredentialVendingError
		require.ErrorAs(t, err, &ve)
	})
}

type readOnlyBackend struct {
	*testutil.MockStorageBackend
}

func (readOnlyBackend) GrantableActions() domain.ActionSet {
	return domain.NewActionSet(domain.ActionGet, domain.ActionList)
}

func TestEngine_Grantable(t *testing.T) {
	signed := testutil.NewScopedStorageBackend(domain.StorageTypeS3Presign)
	e := NewEngine([]domain.StorageBackend{scopedBackend(), readOnlyBackend{signed}}, Config{}, nil)
	all := domain.NewActionSet(domain.AllStorageActions...)

	assert.True(t, all.Equal(e.Grantable(domain.StorageTypeS3, all)))
	assert.Equal(t, []domain.StorageAction{domain.ActionGet, domain.ActionList},
		e.Grantable(domain.StorageTypeS3Presign, all).Sorted())
	assert.Empty(t, e.Grantable(domain.StorageTypeS3Presign, domain.NewActionSet(domain.ActionPut)))
}
