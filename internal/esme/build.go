package esme

import (
	"fmt"

	"github.com/thrillee/esmelink/internal/bus"
	"github.com/thrillee/esmelink/internal/charset"
	"github.com/thrillee/esmelink/internal/config"
	"github.com/thrillee/esmelink/internal/metrics"
	"github.com/thrillee/esmelink/internal/processor"
	"github.com/thrillee/esmelink/internal/sequence"
	"github.com/thrillee/esmelink/internal/stash"
	"github.com/thrillee/esmelink/internal/store"
	"github.com/thrillee/esmelink/pkg/errormapper"
	"github.com/thrillee/esmelink/pkg/pdu"
)

// Deps are the process-wide collaborators shared by every bind.
type Deps struct {
	TransportName string
	Store         store.Store
	Publisher     bus.Publisher
	Metrics       *metrics.Metrics
	Dialer        Dialer
}

// NewServiceFromConfig wires a Service, its Transceiver and processors for
// one configured bind.
func NewServiceFromConfig(bc config.BindConfig, deps Deps) (*Service, error) {
	codings, err := charset.NewTable(bc.DataCodingOverrides)
	if err != nil {
		return nil, fmt.Errorf("bind %q: %w", bc.Name, err)
	}
	encoding, err := charset.Lookup(bc.SubmitSMEncoding)
	if err != nil {
		return nil, fmt.Errorf("bind %q: %w", bc.Name, err)
	}
	dialect, err := processor.LookupDialect(bc.USSDDialect)
	if err != nil {
		return nil, fmt.Errorf("bind %q: %w", bc.Name, err)
	}

	prefix := bc.KeyPrefix
	seq := sequence.NewGenerator(deps.Store, prefix, sequence.WithRollover(bc.RolloverAt, bc.RolloverLockExpiry))
	refs := sequence.NewGenerator(deps.Store, prefix+":multipart_ref")
	st := stash.New(deps.Store, stash.Config{
		Prefix:       prefix,
		PDUTTL:       bc.SubmitSMExpiry,
		RemoteIDTTL:  bc.ThirdPartyIDExpiry,
		MultipartTTL: bc.MultipartExpiry,
	})

	submit := processor.NewSubmitProcessor(processor.SubmitConfig{
		ServiceType:        bc.ServiceType,
		SourceAddrTON:      bc.SourceAddrTON,
		SourceAddrNPI:      bc.SourceAddrNPI,
		DestAddrTON:        bc.DestAddrTON,
		DestAddrNPI:        bc.DestAddrNPI,
		RegisteredDelivery: bc.RegisteredDelivery,
		DataCoding:         bc.SubmitSMDataCoding,
		Encoding:           encoding,
		Mode:               processor.ModeFor(bc.SendLongMessages, bc.SendMultipartSAR, bc.SendMultipartUDH),
		Dialect:            dialect,
	}, refs, st)
	deliver := processor.NewDeliverProcessor(processor.DeliverConfig{
		TransportName:    deps.TransportName,
		Codings:          codings,
		StrictDataCoding: bc.StrictDataCoding,
		Dialect:          dialect,
	}, st)

	decodeStatus := errormapper.ResolveStatus(bc.DeliverSMDecodingError, pdu.StatusDeliveryFailure)
	tr := NewTransceiver(TransceiverConfig{
		Name:              bc.Name,
		TransportName:     deps.TransportName,
		Transmit:          bc.CanTransmit(),
		ThrottleDelay:     bc.ThrottleDelay,
		DecodeErrorStatus: decodeStatus,
		SourceAddrTON:     bc.SourceAddrTON,
		SourceAddrNPI:     bc.SourceAddrNPI,
	}, TransceiverDeps{
		Sequence:  seq,
		Stash:     st,
		Submit:    submit,
		Deliver:   deliver,
		Publisher: deps.Publisher,
		Throttle:  NewThrottle(bc.MTTPS),
		Metrics:   deps.Metrics,
	})

	return NewService(ServiceConfig{
		Name:    bc.Name,
		Address: bc.Address,
		Session: SessionConfig{
			BindType: bc.BindType,
			Bind: pdu.Bind{
				SystemID:         bc.SystemID,
				Password:         bc.Password,
				SystemType:       bc.SystemType,
				InterfaceVersion: bc.InterfaceVersion,
				AddrTON:          bc.SourceAddrTON,
				AddrNPI:          bc.SourceAddrNPI,
			},
			BindTimeout:         bc.BindTimeout,
			EnquireLinkInterval: bc.EnquireLinkInterval,
			UnbindTimeout:       bc.UnbindTimeout,
			WriteTimeout:        bc.WriteTimeout,
			DecodeErrorStatus:   decodeStatus,
		},
		InitialDelay: bc.InitialDelay,
		MaxDelay:     bc.MaxReconnectDelay,
		Factor:       bc.Factor,
		Jitter:       bc.Jitter,
		MaxRetries:   bc.MaxRetries,
		Dialer:       deps.Dialer,
		Metrics:      deps.Metrics,
	}, seq, tr), nil
}
