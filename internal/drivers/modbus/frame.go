package modbus

import (
	"encoding/binary"
	"fmt"
)

// MBAP Header (7 bytes) + Function Code + Data
type Frame struct {
	TransactionID uint16 // request/response correlation
	ProtocolID    uint16 // always 0x0000 for Modbus
	Length        uint16 // number of following bytes
	UnitID        uint8  // slave address
	FunctionCode  uint8
	Data          []byte
}

// Modbus function codes
const (
	FuncCodeReadCoils              = 0x01
	FuncCodeReadDiscreteInputs     = 0x02
	FuncCodeReadHoldingRegisters   = 0x03
	FuncCodeReadInputRegisters     = 0x04
	FuncCodeWriteSingleCoil        = 0x05
	FuncCodeWriteSingleRegister    = 0x06
	FuncCodeWriteMultipleRegisters = 0x10
)

// Encode builds the complete TCP frame.
func (f *Frame) Encode() []byte {
	f.Length = uint16(len(f.Data) + 2) // UnitID + FunctionCode

	frame := make([]byte, 7+len(f.Data)+1)

	// MBAP header
	binary.BigEndian.PutUint16(frame[0:2], f.TransactionID)
	binary.BigEndian.PutUint16(frame[2:4], f.ProtocolID)
	binary.BigEndian.PutUint16(frame[4:6], f.Length)
	frame[6] = f.UnitID

	// PDU
	frame[7] = f.FunctionCode
	copy(frame[8:], f.Data)

	return frame
}

// DecodeFrame parses a received frame.
func DecodeFrame(data []byte) (*Frame, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("frame too short: %d bytes", len(data))
	}

	frame := &Frame{
		TransactionID: binary.BigEndian.Uint16(data[0:2]),
		ProtocolID:    binary.BigEndian.Uint16(data[2:4]),
		Length:        binary.BigEndian.Uint16(data[4:6]),
		UnitID:        data[6],
		FunctionCode:  data[7],
	}

	if frame.ProtocolID != 0x0000 {
		return nil, fmt.Errorf("invalid protocol ID: 0x%04X", frame.ProtocolID)
	}

	if len(data) > 8 {
		frame.Data = data[8:]
	}

	return frame, nil
}

// IsException reports whether the response is a Modbus exception frame.
func (f *Frame) IsException() bool {
	return f.FunctionCode&0x80 != 0
}

// ExceptionCode returns the exception code of an exception frame.
func (f *Frame) ExceptionCode() uint8 {
	if !f.IsException() || len(f.Data) == 0 {
		return 0
	}
	return f.Data[0]
}

// ReadRegistersRequest builds a request for function codes 0x03/0x04.
func ReadRegistersRequest(funcCode uint8, unitID uint8, startAddr uint16, quantity uint16) *Frame {
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:2], startAddr)
	binary.BigEndian.PutUint16(data[2:4], quantity)

	return &Frame{
		UnitID:       unitID,
		FunctionCode: funcCode,
		Data:         data,
	}
}

// ReadBitsRequest builds a request for function codes 0x01/0x02.
func ReadBitsRequest(funcCode uint8, unitID uint8, startAddr uint16, quantity uint16) *Frame {
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:2], startAddr)
	binary.BigEndian.PutUint16(data[2:4], quantity)

	return &Frame{
		UnitID:       unitID,
		FunctionCode: funcCode,
		Data:         data,
	}
}

// WriteSingleRegisterRequest builds a request for function code 0x06.
func WriteSingleRegisterRequest(unitID uint8, addr uint16, value uint16) *Frame {
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:2], addr)
	binary.BigEndian.PutUint16(data[2:4], value)

	return &Frame{
		UnitID:       unitID,
		FunctionCode: FuncCodeWriteSingleRegister,
		Data:         data,
	}
}

// WriteSingleCoilRequest builds a request for function code 0x05.
// Coil on is encoded as 0xFF00, off as 0x0000.
func WriteSingleCoilRequest(unitID uint8, addr uint16, on bool) *Frame {
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:2], addr)
	if on {
		binary.BigEndian.PutUint16(data[2:4], 0xFF00)
	}

	return &Frame{
		UnitID:       unitID,
		FunctionCode: FuncCodeWriteSingleCoil,
		Data:         data,
	}
}

// WriteMultipleRegistersRequest builds a request for function code 0x10.
func WriteMultipleRegistersRequest(unitID uint8, startAddr uint16, values []uint16) *Frame {
	data := make([]byte, 5+len(values)*2)
	binary.BigEndian.PutUint16(data[0:2], startAddr)
	binary.BigEndian.PutUint16(data[2:4], uint16(len(values)))
	data[4] = uint8(len(values) * 2)
	for i, v := range values {
		binary.BigEndian.PutUint16(data[5+i*2:7+i*2], v)
	}

	return &Frame{
		UnitID:       unitID,
		FunctionCode: FuncCodeWriteMultipleRegisters,
		Data:         data,
	}
}

// ParseRegisterResponse extracts register values from a 0x03/0x04 response.
func (f *Frame) ParseRegisterResponse() ([]uint16, error) {
	if len(f.Data) < 1 {
		return nil, fmt.Errorf("empty register response")
	}
	byteCount := int(f.Data[0])
	if len(f.Data) < 1+byteCount || byteCount%2 != 0 {
		return nil, fmt.Errorf("malformed register response: byte count %d, payload %d", byteCount, len(f.Data)-1)
	}

	values := make([]uint16, byteCount/2)
	for i := range values {
		values[i] = binary.BigEndian.Uint16(f.Data[1+i*2 : 3+i*2])
	}
	return values, nil
}

// ParseBitResponse extracts packed bits from a 0x01/0x02 response.
func (f *Frame) ParseBitResponse(quantity int) ([]bool, error) {
	if len(f.Data) < 1 {
		return nil, fmt.Errorf("empty bit response")
	}
	byteCount := int(f.Data[0])
	if len(f.Data) < 1+byteCount || byteCount*8 < quantity {
		return nil, fmt.Errorf("malformed bit response: byte count %d for %d bits", byteCount, quantity)
	}

	bits := make([]bool, quantity)
	for i := 0; i < quantity; i++ {
		bits[i] = f.Data[1+i/8]&(1<<(i%8)) != 0
	}
	return bits, nil
}
