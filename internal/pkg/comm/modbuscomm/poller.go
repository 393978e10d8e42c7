package modbuscomm

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"math"
	"os"
	"sync"
	"time"

	"github.com/goburrow/modbus"
	"github.com/google/uuid"
	"github.com/ohowland/cgc_cim/internal/pkg/cimerr"
	"github.com/ohowland/cgc_cim/internal/pkg/metrics"
	"go.uber.org/zap"
)

// Poller reads and writes holding registers on a Modbus TCP target.
type Poller struct {
	handler  *modbus.TCPClientHandler
	pollRate int
}

// PollerConfig is the configuration format for Poller
type PollerConfig struct {
	IPAddr       string `json:"IPAddr"`
	Port         string `json:"Port"`
	SlaveID      byte   `json:"SlaveID"`
	Timeout      int    `json:"Timeout"`
	PollRate     int    `json:"PollRate"`
	EnableLogger bool   `json:"EnableLogger"`
}

// NewPoller is a factory for the Poller struct. Frame logging goes to log
// when EnableLogger is set.
func NewPoller(cfg PollerConfig, log *zap.Logger) Poller {
	handler := modbus.NewTCPClientHandler(cfg.IPAddr + ":" + cfg.Port)
	handler.Timeout = time.Millisecond * time.Duration(cfg.Timeout)
	handler.SlaveId = cfg.SlaveID

	if cfg.EnableLogger && log != nil {
		handler.Logger = zap.NewStdLog(log.Named("modbus"))
	}

	return Poller{
		handler:  handler,
		pollRate: cfg.PollRate,
	}
}

// Read returns the decoded value of every register that could be read. The
// last read error, if any, is returned alongside the partial result.
func (m Poller) Read(registers []Register) (map[string]float64, error) {
	err := m.handler.Connect()
	if err != nil {
		return nil, err
	}
	defer m.handler.Close()

	client := modbus.NewClient(m.handler)
	readValues := make(map[string]float64)
	for _, register := range registers {
		resp, readErr := client.ReadHoldingRegisters(register.Address, sizeOf(register.DataType))
		if readErr != nil {
			err = readErr
			continue
		}
		readValues[register.Name] = decode(resp, register)
	}
	return readValues, err
}

// Write encodes each value onto the register of the same name. Names missing
// from registers are skipped and reported; the last error is returned.
func (m Poller) Write(registers []Register, writeValues map[string]float64) error {
	err := m.handler.Connect()
	if err != nil {
		return err
	}
	defer m.handler.Close()

	client := modbus.NewClient(m.handler)
	for name, val := range writeValues {
		i, findErr := findIndexByName(registers, name)
		if findErr != nil {
			err = findErr
			continue
		}
		reg := registers[i]
		if _, writeErr := client.WriteMultipleRegisters(reg.Address, sizeOf(reg.DataType), encode(val, reg)); writeErr != nil {
			err = writeErr
		}
	}
	return err
}

// MeterConfig describes one metering device reachable over Modbus.
type MeterConfig struct {
	MRID      string       `json:"MRID"`
	Name      string       `json:"Name"`
	PsrID     string       `json:"PsrID"`
	Poller    PollerConfig `json:"Poller"`
	Registers []Register   `json:"Registers"`
}

// MeterPoller periodically reads a meter's registers and files them as
// readings in a metrics store.
type MeterPoller struct {
	mux      *sync.Mutex
	pid      uuid.UUID
	config   MeterConfig
	comm     ModbusComm
	store    *metrics.Store
	log      *zap.Logger
	now      func() time.Time
	stop     chan struct{}
	stopOnce *sync.Once
}

// NewMeterPoller reads a MeterConfig from the JSON file at configPath.
func NewMeterPoller(configPath string, store *metrics.Store, log *zap.Logger) (*MeterPoller, error) {
	jsonConfig, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}
	cfg := MeterConfig{}
	if err := json.Unmarshal(jsonConfig, &cfg); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return newMeterPoller(cfg, NewPoller(cfg.Poller, log), store, log), nil
}

func newMeterPoller(cfg MeterConfig, comm ModbusComm, store *metrics.Store, log *zap.Logger) *MeterPoller {
	if log == nil {
		log = zap.NewNop()
	}
	return &MeterPoller{
		mux:      &sync.Mutex{},
		pid:      uuid.New(),
		config:   cfg,
		comm:     comm,
		store:    store,
		log:      log.Named("modbus").With(zap.String("meter", cfg.MRID)),
		now:      time.Now,
		stop:     make(chan struct{}),
		stopOnce: &sync.Once{},
	}
}

func (p *MeterPoller) PID() uuid.UUID {
	return p.pid
}

// MRID returns the mRID of the metered device.
func (p *MeterPoller) MRID() string {
	return p.config.MRID
}

// WriteRegisters writes engineering values to the meter's writable registers,
// dividing each by the register scale. Nothing is written when a name is not
// a writable register.
func (p *MeterPoller) WriteRegisters(values map[string]float64) error {
	p.mux.Lock()
	defer p.mux.Unlock()

	regs := FilterRegisters(p.config.Registers, wo)
	raw := make(map[string]float64, len(values))
	for name, v := range values {
		i, err := findIndexByName(regs, name)
		if err != nil {
			return cimerr.NotFoundError{Kind: "writable register", Key: name}
		}
		scale := regs[i].Scale
		if scale == 0 {
			scale = 1
		}
		raw[name] = v / scale
	}
	if len(raw) == 0 {
		return nil
	}
	if err := p.comm.Write(regs, raw); err != nil {
		p.log.Warn("write failed", zap.Error(err))
		return err
	}
	p.log.Info("registers written", zap.Int("count", len(raw)))
	return nil
}

// Poll reads the registers once and stores a reading for each value that has
// a kind. The readings stored are returned even when some reads failed.
func (p *MeterPoller) Poll() ([]metrics.Reading, error) {
	p.mux.Lock()
	defer p.mux.Unlock()

	regs := FilterRegisters(p.config.Registers, ro)
	values, err := p.comm.Read(regs)
	ts := p.now().UnixMilli()

	var readings []metrics.Reading
	for _, reg := range regs {
		v, ok := values[reg.Name]
		if !ok || reg.Kind == "" {
			continue
		}
		scale := reg.Scale
		if scale == 0 {
			scale = 1
		}
		readings = append(readings, metrics.Reading{
			Timestamp: ts,
			Value:     v * scale,
			Kind:      reg.Kind,
			Phase:     reg.Phase,
			Unit:      reg.Unit,
		})
	}
	p.store.StoreReadings(p.config.MRID, p.config.Name, p.config.PsrID, readings)
	return readings, err
}

// Process polls at the configured rate until Stop is called.
func (p *MeterPoller) Process() {
	rate := time.Duration(p.config.Poller.PollRate) * time.Millisecond
	if rate <= 0 {
		rate = time.Second
	}
	ticker := time.NewTicker(rate)
	defer ticker.Stop()

	p.log.Info("process started", zap.Duration("rate", rate))
loop:
	for {
		select {
		case <-ticker.C:
			if _, err := p.Poll(); err != nil {
				p.log.Warn("poll failed", zap.Error(err))
			}
		case <-p.stop:
			break loop
		}
	}
	p.log.Info("process shutdown")
}

// Stop ends Process. It does not block and may be called more than once,
// including after Process has returned.
func (p *MeterPoller) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
}

// findIndexByName returns the index in the array of the register, if found. Returns -1 and error if not found.
func findIndexByName(registers []Register, name string) (int, error) {
	for index, register := range registers {
		if register.Name == name {
			return index, nil
		}
	}
	return -1, errors.New("register name not found in register array")
}

// encode convert a float64 into a byte array
func encode(val float64, register Register) []byte {
	var bytes []byte
	endian := getByteOrder(register.Endianness)
	switch register.DataType {
	case u16, i16:
		bytes = make([]byte, 2*sizeOf(u16))
		if register.DataType == i16 {
			endian.PutUint16(bytes, uint16(int16(val)))
		} else {
			endian.PutUint16(bytes, uint16(val))
		}
	case u32, i32:
		bytes = make([]byte, 2*sizeOf(u32))
		if register.DataType == i32 {
			endian.PutUint32(bytes, uint32(int32(val)))
		} else {
			endian.PutUint32(bytes, uint32(val))
		}
	case f32:
		bytes = make([]byte, 2*sizeOf(f32))
		endian.PutUint32(bytes, math.Float32bits(float32(val)))
	case u64, i64:
		bytes = make([]byte, 2*sizeOf(u64))
		if register.DataType == i64 {
			endian.PutUint64(bytes, uint64(int64(val)))
		} else {
			endian.PutUint64(bytes, uint64(val))
		}
	case f64:
		bytes = make([]byte, 2*sizeOf(f64))
		endian.PutUint64(bytes, math.Float64bits(val))
	}
	return bytes
}

// decode coverts byte arrays into float64s
func decode(bytes []byte, register Register) float64 {
	var n float64
	endian := getByteOrder(register.Endianness)
	switch register.DataType {
	case u16:
		n = float64(endian.Uint16(bytes))
	case i16:
		n = float64(int16(endian.Uint16(bytes)))
	case u32:
		n = float64(endian.Uint32(bytes))
	case i32:
		n = float64(int32(endian.Uint32(bytes)))
	case f32:
		n = float64(math.Float32frombits(endian.Uint32(bytes)))
	case u64:
		n = float64(endian.Uint64(bytes))
	case i64:
		n = float64(int64(endian.Uint64(bytes)))
	case f64:
		n = math.Float64frombits(endian.Uint64(bytes))
	}
	return n
}

// getByteOrder returns the correct binary.ByteOrder for the register type
func getByteOrder(e Endian) binary.ByteOrder {
	if e == littleEndian {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

// sizeOf returns the number of u16 registers for the datatype
func sizeOf(t DataType) uint16 {
	switch t {
	case u16, i16:
		return 1
	case u32, i32, f32:
		return 2
	case u64, i64, f64:
		return 4
	}
	return 0
}
