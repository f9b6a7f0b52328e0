package storage

import (
	"strings"

	"github.com/picklr-io/apphost/internal/expr"
	"github.com/picklr-io/apphost/internal/hosting"
	"github.com/picklr-io/apphost/internal/model"
)

const (
	EmulatorImage = "mcr.microsoft.com/azure-storage/azurite"
	EmulatorTag   = "3.33.0"

	BlobPort  = 10000
	QueuePort = 10001
	TablePort = 10002

	// Well known development account of the emulator.
	DevAccountName = "devstoreaccount1"
	DevAccountKey  = "Eby8vdM02xNOcqFlqUwJPLlmEtlCDXJ1OUzFT50uSRZ6IFsuFq2UVErCz4I6tq/K1SZFPTOtr/KBHBeksoGMGw=="

	emulatorDataPath = "/data"
)

// EmulatorResource is the local container standing in for an account.
type EmulatorResource struct {
	model.ContainerResource
}

func (e *EmulatorResource) connectionString(services ...service) (*expr.ReferenceExpression, error) {
	var b expr.Builder
	b.AppendLiteral("DefaultEndpointsProtocol=http;AccountName=" + DevAccountName + ";AccountKey=" + DevAccountKey + ";")
	for _, s := range services {
		svc := string(s)
		b.AppendLiteral(strings.ToUpper(svc[:1]) + svc[1:] + "Endpoint=").
			AppendRef(model.EndpointFor(e, svc).URL()).
			AppendLiteral("/" + DevAccountName + ";")
	}
	return b.Build()
}

// EmulatorOption customizes the emulator container.
type EmulatorOption func(*hosting.ResourceBuilder[*EmulatorResource])

// WithEmulatorDataVolume keeps emulator data in a named volume,
// <account>-data by default.
func WithEmulatorDataVolume(volume string) EmulatorOption {
	return func(rb *hosting.ResourceBuilder[*EmulatorResource]) {
		if volume == "" {
			volume = rb.Resource().Parent().Name() + "-data"
		}
		rb.WithVolume(volume, emulatorDataPath, false)
	}
}

// WithEmulatorPorts fixes the host ports of the blob, queue and table
// endpoints. Zero leaves a port to the allocator.
func WithEmulatorPorts(blob, queue, table int) EmulatorOption {
	return func(rb *hosting.ResourceBuilder[*EmulatorResource]) {
		for name, port := range map[string]int{string(serviceBlob): blob, string(serviceQueue): queue, string(serviceTable): table} {
			if port == 0 {
				continue
			}
			if ep, ok := model.FindEndpoint(rb.Resource(), name); ok {
				p := port
				ep.Port = &p
			}
		}
	}
}

// RunAsEmulator replaces the account with a local emulator container named
// <account>-emulator. In publish mode it does nothing and the account is
// published as a cloud template.
func RunAsEmulator(rb *hosting.ResourceBuilder[*Resource], opts ...EmulatorOption) *hosting.ResourceBuilder[*Resource] {
	b := rb.Builder()
	if b.Execution().IsPublishMode() {
		return rb
	}
	account := rb.Resource()
	if account.emulator != nil {
		return rb
	}

	emu := &EmulatorResource{ContainerResource: model.ContainerResource{Base: model.NewBase(account.Name() + "-emulator")}}
	erb := hosting.Add(b, emu).
		WithParent(account).
		WithImage(EmulatorImage, EmulatorTag).
		WithEndpoint(string(serviceBlob), BlobPort, hosting.Scheme("http")).
		WithEndpoint(string(serviceQueue), QueuePort, hosting.Scheme("http")).
		WithEndpoint(string(serviceTable), TablePort, hosting.Scheme("http")).
		ExcludeFromManifest()
	for _, opt := range opts {
		opt(erb)
	}
	account.emulator = emu

	// Consumers of the account start after the emulator.
	return rb.WaitFor(emu)
}
