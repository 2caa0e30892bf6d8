/*
Package pcsc holds the PC/SC vocabulary shared by the API provider and the
simulated daemon: native return codes and their caller-facing result codes,
reader state and protocol bits, and the remote call format.

A remote call travels on the "pcsc_lite_function_call" requester as

	{"function_name": "SCardConnect", "arguments": [ctx, reader, share, protocols]}

and is answered with an array whose first element is the return code:

	[0, 12345, 2]

Outputs follow only when the return code is Success.
*/
package pcsc
