package storage

import (
	"github.com/picklr-io/apphost/internal/expr"
	"github.com/picklr-io/apphost/internal/hosting"
	"github.com/picklr-io/apphost/internal/model"
)

type service string

const (
	serviceBlob  service = "blob"
	serviceQueue service = "queue"
	serviceTable service = "table"
)

func (s service) output() string {
	switch s {
	case serviceQueue:
		return OutputQueueEndpoint
	case serviceTable:
		return OutputTableEndpoint
	}
	return OutputBlobEndpoint
}

// ServiceResource is one data service of an account, published as a
// value.v0 connection string.
type ServiceResource struct {
	model.Base
	account *Resource
	service service
}

// Account returns the owning storage account.
func (s *ServiceResource) Account() *Resource { return s.account }

// ConnectionStringExpression is the service endpoint of the account or of
// its emulator.
func (s *ServiceResource) ConnectionStringExpression() (*expr.ReferenceExpression, error) {
	if s.account.emulator != nil {
		return s.account.emulator.connectionString(s.service)
	}
	return expr.New(expr.Ref(model.OutputOf(s.account, s.service.output())))
}

func addService(rb *hosting.ResourceBuilder[*Resource], name string, svc service) *hosting.ResourceBuilder[*ServiceResource] {
	s := &ServiceResource{Base: model.NewBase(name), account: rb.Resource(), service: svc}
	return hosting.Add(rb.Builder(), s).
		WithParent(rb.Resource()).
		WaitFor(rb.Resource()).
		WithConnectionString(s.ConnectionStringExpression)
}

// AddBlobs adds the blob service of the account.
func AddBlobs(rb *hosting.ResourceBuilder[*Resource], name string) *hosting.ResourceBuilder[*ServiceResource] {
	return addService(rb, name, serviceBlob)
}

// AddQueues adds the queue service of the account.
func AddQueues(rb *hosting.ResourceBuilder[*Resource], name string) *hosting.ResourceBuilder[*ServiceResource] {
	return addService(rb, name, serviceQueue)
}

// AddTables adds the table service of the account.
func AddTables(rb *hosting.ResourceBuilder[*Resource], name string) *hosting.ResourceBuilder[*ServiceResource] {
	return addService(rb, name, serviceTable)
}
