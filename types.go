package omx

import "fmt"

// State is a component lifecycle state (OMX_STATETYPE).
type State uint32

const (
	StateInvalid          State = 0
	StateLoaded           State = 1
	StateIdle             State = 2
	StateExecuting        State = 3
	StatePause            State = 4
	StateWaitForResources State = 5
)

func (s State) String() string {
	switch s {
	case StateInvalid:
		return "Invalid"
	case StateLoaded:
		return "Loaded"
	case StateIdle:
		return "Idle"
	case StateExecuting:
		return "Executing"
	case StatePause:
		return "Pause"
	case StateWaitForResources:
		return "WaitForResources"
	default:
		return fmt.Sprintf("State(0x%08x)", uint32(s))
	}
}

// Command is a command sent to a component (OMX_COMMANDTYPE).
type Command uint32

const (
	CommandStateSet    Command = 0
	CommandFlush       Command = 1
	CommandPortDisable Command = 2
	CommandPortEnable  Command = 3
	CommandMarkBuffer  Command = 4
)

func (c Command) String() string {
	switch c {
	case CommandStateSet:
		return "StateSet"
	case CommandFlush:
		return "Flush"
	case CommandPortDisable:
		return "PortDisable"
	case CommandPortEnable:
		return "PortEnable"
	case CommandMarkBuffer:
		return "MarkBuffer"
	default:
		return fmt.Sprintf("Command(0x%08x)", uint32(c))
	}
}

// Direction is the direction of a port (OMX_DIRTYPE).
type Direction uint32

const (
	DirInput  Direction = 0
	DirOutput Direction = 1
)

func (d Direction) String() string {
	switch d {
	case DirInput:
		return "input"
	case DirOutput:
		return "output"
	default:
		return fmt.Sprintf("Direction(%d)", uint32(d))
	}
}

// Domain is the data domain of a port (OMX_PORTDOMAINTYPE). Only DomainImage
// ports are negotiated by this package.
type Domain uint32

const (
	DomainAudio Domain = 0
	DomainVideo Domain = 1
	DomainImage Domain = 2
	DomainOther Domain = 3
)

func (d Domain) String() string {
	switch d {
	case DomainAudio:
		return "audio"
	case DomainVideo:
		return "video"
	case DomainImage:
		return "image"
	case DomainOther:
		return "other"
	default:
		return fmt.Sprintf("Domain(%d)", uint32(d))
	}
}

// EventType is the raw event reported through the event callback (OMX_EVENTTYPE).
type EventType uint32

const (
	EventTypeCmdComplete               EventType = 0
	EventTypeError                     EventType = 1
	EventTypeMark                      EventType = 2
	EventTypePortSettingsChanged       EventType = 3
	EventTypeBufferFlag                EventType = 4
	EventTypeResourcesAcquired         EventType = 5
	EventTypeComponentResumed          EventType = 6
	EventTypeDynamicResourcesAvailable EventType = 7
	EventTypePortFormatDetected        EventType = 8
	EventTypeParamOrConfigChanged      EventType = 0x7F000001 // Broadcom extension
)

func (e EventType) String() string {
	switch e {
	case EventTypeCmdComplete:
		return "CmdComplete"
	case EventTypeError:
		return "Error"
	case EventTypeMark:
		return "Mark"
	case EventTypePortSettingsChanged:
		return "PortSettingsChanged"
	case EventTypeBufferFlag:
		return "BufferFlag"
	case EventTypeResourcesAcquired:
		return "ResourcesAcquired"
	case EventTypeComponentResumed:
		return "ComponentResumed"
	case EventTypeDynamicResourcesAvailable:
		return "DynamicResourcesAvailable"
	case EventTypePortFormatDetected:
		return "PortFormatDetected"
	case EventTypeParamOrConfigChanged:
		return "ParamOrConfigChanged"
	default:
		return fmt.Sprintf("EventType(0x%08x)", uint32(e))
	}
}

// ErrorCode is an OMX_ERRORTYPE value reported by the platform.
type ErrorCode uint32

const (
	ErrorNone                        ErrorCode = 0
	ErrorInsufficientResources       ErrorCode = 0x80001000
	ErrorUndefined                   ErrorCode = 0x80001001
	ErrorInvalidComponentName        ErrorCode = 0x80001002
	ErrorComponentNotFound           ErrorCode = 0x80001003
	ErrorInvalidComponent            ErrorCode = 0x80001004
	ErrorBadParameter                ErrorCode = 0x80001005
	ErrorNotImplemented              ErrorCode = 0x80001006
	ErrorUnderflow                   ErrorCode = 0x80001007
	ErrorOverflow                    ErrorCode = 0x80001008
	ErrorHardware                    ErrorCode = 0x80001009
	ErrorInvalidState                ErrorCode = 0x8000100A
	ErrorStreamCorrupt               ErrorCode = 0x8000100B
	ErrorPortsNotCompatible          ErrorCode = 0x8000100C
	ErrorResourcesLost               ErrorCode = 0x8000100D
	ErrorNoMore                      ErrorCode = 0x8000100E
	ErrorVersionMismatch             ErrorCode = 0x8000100F
	ErrorNotReady                    ErrorCode = 0x80001010
	ErrorTimeout                     ErrorCode = 0x80001011
	ErrorSameState                   ErrorCode = 0x80001012
	ErrorResourcesPreempted          ErrorCode = 0x80001013
	ErrorIncorrectStateTransition    ErrorCode = 0x80001017
	ErrorIncorrectStateOperation     ErrorCode = 0x80001018
	ErrorUnsupportedSetting          ErrorCode = 0x80001019
	ErrorUnsupportedIndex            ErrorCode = 0x8000101A
	ErrorBadPortIndex                ErrorCode = 0x8000101B
	ErrorPortUnpopulated             ErrorCode = 0x8000101C
	ErrorComponentSuspended          ErrorCode = 0x8000101D
	ErrorDynamicResourcesUnavailable ErrorCode = 0x8000101E
	ErrorMbErrorsInFrame             ErrorCode = 0x8000101F
	ErrorFormatNotDetected           ErrorCode = 0x80001020
	ErrorTunnelingUnsupported        ErrorCode = 0x80001024
)

func (e ErrorCode) String() string {
	switch e {
	case ErrorNone:
		return "None"
	case ErrorInsufficientResources:
		return "InsufficientResources"
	case ErrorUndefined:
		return "Undefined"
	case ErrorInvalidComponentName:
		return "InvalidComponentName"
	case ErrorComponentNotFound:
		return "ComponentNotFound"
	case ErrorInvalidComponent:
		return "InvalidComponent"
	case ErrorBadParameter:
		return "BadParameter"
	case ErrorNotImplemented:
		return "NotImplemented"
	case ErrorUnderflow:
		return "Underflow"
	case ErrorOverflow:
		return "Overflow"
	case ErrorHardware:
		return "Hardware"
	case ErrorInvalidState:
		return "InvalidState"
	case ErrorStreamCorrupt:
		return "StreamCorrupt"
	case ErrorPortsNotCompatible:
		return "PortsNotCompatible"
	case ErrorResourcesLost:
		return "ResourcesLost"
	case ErrorNoMore:
		return "NoMore"
	case ErrorVersionMismatch:
		return "VersionMismatch"
	case ErrorNotReady:
		return "NotReady"
	case ErrorTimeout:
		return "Timeout"
	case ErrorSameState:
		return "SameState"
	case ErrorResourcesPreempted:
		return "ResourcesPreempted"
	case ErrorIncorrectStateTransition:
		return "IncorrectStateTransition"
	case ErrorIncorrectStateOperation:
		return "IncorrectStateOperation"
	case ErrorUnsupportedSetting:
		return "UnsupportedSetting"
	case ErrorUnsupportedIndex:
		return "UnsupportedIndex"
	case ErrorBadPortIndex:
		return "BadPortIndex"
	case ErrorPortUnpopulated:
		return "PortUnpopulated"
	case ErrorComponentSuspended:
		return "ComponentSuspended"
	case ErrorDynamicResourcesUnavailable:
		return "DynamicResourcesUnavailable"
	case ErrorMbErrorsInFrame:
		return "MbErrorsInFrame"
	case ErrorFormatNotDetected:
		return "FormatNotDetected"
	case ErrorTunnelingUnsupported:
		return "TunnelingUnsupported"
	default:
		return fmt.Sprintf("ErrorCode(0x%08x)", uint32(e))
	}
}

// ImageCoding is a compressed image format (OMX_IMAGE_CODINGTYPE).
type ImageCoding uint32

const (
	CodingUnused     ImageCoding = 0
	CodingAutoDetect ImageCoding = 1
	CodingJPEG       ImageCoding = 2
	CodingJPEG2K     ImageCoding = 3
	CodingEXIF       ImageCoding = 4
	CodingTIFF       ImageCoding = 5
	CodingGIF        ImageCoding = 6
	CodingPNG        ImageCoding = 7
	CodingLZW        ImageCoding = 8
	CodingBMP        ImageCoding = 9
	CodingTGA        ImageCoding = 0x7F000001 // Broadcom extension
	CodingPPM        ImageCoding = 0x7F000002 // Broadcom extension
)

func (c ImageCoding) String() string {
	switch c {
	case CodingUnused:
		return "Unused"
	case CodingAutoDetect:
		return "AutoDetect"
	case CodingJPEG:
		return "JPEG"
	case CodingJPEG2K:
		return "JPEG2K"
	case CodingEXIF:
		return "EXIF"
	case CodingTIFF:
		return "TIFF"
	case CodingGIF:
		return "GIF"
	case CodingPNG:
		return "PNG"
	case CodingLZW:
		return "LZW"
	case CodingBMP:
		return "BMP"
	case CodingTGA:
		return "TGA"
	case CodingPPM:
		return "PPM"
	default:
		return fmt.Sprintf("ImageCoding(0x%08x)", uint32(c))
	}
}

// BufferFlags is the nFlags bit set of a buffer header.
type BufferFlags uint32

const (
	FlagEOS         BufferFlags = 0x00000001
	FlagStartTime   BufferFlags = 0x00000002
	FlagDecodeOnly  BufferFlags = 0x00000004
	FlagDataCorrupt BufferFlags = 0x00000008
	FlagEndOfFrame  BufferFlags = 0x00000010
	FlagSyncFrame   BufferFlags = 0x00000020
	FlagExtraData   BufferFlags = 0x00000040
	FlagCodecConfig BufferFlags = 0x00000080
)

// Has returns true if all bits of flag are set.
func (f BufferFlags) Has(flag BufferFlags) bool { return f&flag == flag }

func (f BufferFlags) String() string {
	if f == 0 {
		return "none"
	}
	names := []struct {
		flag BufferFlags
		name string
	}{
		{FlagEOS, "EOS"},
		{FlagStartTime, "STARTTIME"},
		{FlagDecodeOnly, "DECODEONLY"},
		{FlagDataCorrupt, "DATACORRUPT"},
		{FlagEndOfFrame, "ENDOFFRAME"},
		{FlagSyncFrame, "SYNCFRAME"},
		{FlagExtraData, "EXTRADATA"},
		{FlagCodecConfig, "CODECCONFIG"},
	}
	s := ""
	rest := f
	for _, n := range names {
		if f&n.flag != 0 {
			if s != "" {
				s += "|"
			}
			s += n.name
			rest &^= n.flag
		}
	}
	if rest != 0 {
		if s != "" {
			s += "|"
		}
		s += fmt.Sprintf("0x%x", uint32(rest))
	}
	return s
}
