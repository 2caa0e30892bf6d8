/*
Package ws exposes the smart card provider API over WebSocket.

Each connection gets its own provider and therefore its own set of PC/SC
contexts. Client frames name an event and carry its fields:

	{"event": "onEstablishContextRequested", "requestId": 1}
	{"event": "onListReadersRequested", "requestId": 2, "sCardContext": 1234}

Every accepted request is answered by exactly one report frame:

	{"function": "reportEstablishContextResult", "requestId": 1,
	 "resultCode": "SUCCESS", "sCardContext": 1234}

Frames that cannot be decoded get an "error" frame instead. When the
backend module goes away the server closes the connection with code 1013
(try again later).
*/
package ws
