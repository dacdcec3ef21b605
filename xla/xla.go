/*
 *	Copyright 2023 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

// Package xla implements the local compilation service: it validates the requested argument
// layouts of a program against its signature, builds the compilation configuration, dispatches
// the compilation to the backend (as runnable executables or ahead-of-time artifacts), maps
// replicas to devices and manages handles to replicated device buffers.
//
// To set a default platform to use, set the environment variable XLASERVICE_PLATFORM to the
// platform name (eg. "host"), or set it in the ServiceOptions.
//
// Logging uses klog: compilations are logged at verbosity 1, buffer registrations at 2 and
// computation layouts at 3.
package xla
